package whop

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/captioncrafter/entitlement-service/internal/domain"
)

// SignatureHeader заголовок с HMAC-подписью тела вебхука
const SignatureHeader = "X-Whop-Signature"

// signaturePrefix провайдер присылает подпись в виде "sha256=<hex>"
const signaturePrefix = "sha256="

// SignPayload вычисляет HMAC-SHA256 подпись тела вебхука.
// Экспортируется для подписи тестовых событий.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись тела вебхука.
// Сравнение - константное по времени. Пустая или неверно
// сформированная подпись отклоняется.
func VerifySignature(secret string, payload []byte, header string) error {
	if header == "" {
		return domain.ErrSignatureInvalid
	}

	provided := strings.TrimPrefix(header, signaturePrefix)
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(decoded, expected) {
		return domain.ErrSignatureInvalid
	}

	return nil
}
