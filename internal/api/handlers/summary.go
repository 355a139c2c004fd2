// summary.go — сводка трафика для дашборда.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
)

// summaryDays — глубина сводки в днях.
const summaryDays = 14

// MonthSummary возвращает суммарный трафик учитываемых peer'ов
// за последние 14 дней, по возрастанию дат. Дни без трафика
// присутствуют с нулями, чтобы график не имел разрывов.
func (h *Handler) MonthSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	fromDay := now.AddDate(0, 0, -(summaryDays - 1)).Format("2006-01-02")

	rows, err := h.store.Usage().SummaryByDay(r.Context(), fromDay)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	byDay := make(map[string]UsagePointDTO, len(rows))
	for _, d := range rows {
		byDay[d.Day] = UsagePointDTO{Day: d.Day, Rx: d.Rx, Tx: d.Tx}
	}

	result := make([]UsagePointDTO, 0, summaryDays)
	for i := summaryDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		if p, ok := byDay[day]; ok {
			result = append(result, p)
		} else {
			result = append(result, UsagePointDTO{Day: day})
		}
	}
	writeJSON(w, http.StatusOK, result)
}
