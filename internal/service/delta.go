// delta.go — вычисление дельт трафика по монотонным счётчикам RouterOS.
package service

import "github.com/arturkryukov/wgmik/internal/domain/model"

// Delta — прирост трафика peer'а между двумя наблюдениями.
type Delta struct {
	Rx int64
	Tx int64
	// RxReset/TxReset — счётчик уменьшился (перезагрузка роутера,
	// пересоздание peer'а). Дельтой считается текущее значение счётчика:
	// трафик, накопленный до сброса и не учтённый предыдущими циклами,
	// теряется, а трафик после сброса не занижается.
	RxReset bool
	TxReset bool
}

// Total возвращает суммарный прирост rx+tx.
func (d Delta) Total() int64 { return d.Rx + d.Tx }

// Reset сообщает, был ли сброшен хотя бы один счётчик.
func (d Delta) Reset() bool { return d.RxReset || d.TxReset }

// ComputeDelta вычисляет прирост между предыдущим наблюдением и текущими
// значениями счётчиков. prev == nil означает первое наблюдение peer'а:
// базовая линия, дельта нулевая.
func ComputeDelta(prev *model.UsageSample, curRx, curTx int64) Delta {
	if prev == nil {
		return Delta{}
	}

	var d Delta
	if curRx >= prev.Rx {
		d.Rx = curRx - prev.Rx
	} else {
		d.Rx = curRx
		d.RxReset = true
	}
	if curTx >= prev.Tx {
		d.Tx = curTx - prev.Tx
	} else {
		d.Tx = curTx
		d.TxReset = true
	}
	return d
}
