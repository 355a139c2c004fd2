// Пакет secret — симметричное шифрование паролей роутеров.
// AES-256-GCM, ключ выводится из WM_SECRET_KEY через SHA-256.
// Токен: base64url(nonce || ciphertext).
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidToken — токен повреждён или зашифрован другим ключом.
var ErrInvalidToken = errors.New("некорректный шифротекст")

// Box шифрует и расшифровывает короткие секреты.
type Box struct {
	aead cipher.AEAD
}

// New создаёт Box с ключом, выведенным из секретной строки.
func New(secretKey string) (*Box, error) {
	key := sha256.Sum256([]byte(secretKey))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации GCM: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Seal шифрует строку и возвращает base64url-токен.
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает токен, созданный Seal.
func (b *Box) Open(token string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(data) < b.aead.NonceSize() {
		return "", ErrInvalidToken
	}

	nonce, ciphertext := data[:b.aead.NonceSize()], data[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plaintext), nil
}
