package refcode

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	codeBytes   = 8
	payoutBytes = 12
)

// Generate возвращает 16-символьный hex-код в верхнем регистре.
// Источник - криптографический ГСЧ: код не должен быть предсказуемым.
// Уникальность проверяет вызывающая сторона
func Generate() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// PayoutID возвращает идентификатор попытки выплаты вида po_<hex>
func PayoutID() (string, error) {
	buf := make([]byte, payoutBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "po_" + hex.EncodeToString(buf), nil
}
