// Package gateway содержит адаптеры платёжного шлюза и проверку подписи callback.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Sign возвращает hex(HMAC-SHA256(secret, orderRef + "|" + paymentRef)).
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись callback за постоянное время. Пустые поля
// и некорректный hex считаются неверной подписью.
func VerifySignature(secret, orderRef, paymentRef, signature string) error {
	signature = strings.TrimSpace(signature)
	if secret == "" || orderRef == "" || paymentRef == "" || signature == "" {
		return domain.ErrInvalidSignature
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
