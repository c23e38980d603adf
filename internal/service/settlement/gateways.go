package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ultramarket/orderflow/internal/domain"
)

// Поддерживаемые платёжные шлюзы узбекского рынка.
const (
	GatewayClick  = "click"
	GatewayPayme  = "payme"
	GatewayUzcard = "uzcard"
	GatewayHumo   = "humo"
)

// Gateway описывает интеграцию с одним платёжным шлюзом: проверку подписи
// webhook и разбор его тела в нормализованное платёжное событие.
type Gateway struct {
	// Name — код шлюза, совпадает с сегментом пути webhook.
	Name string
	// SignatureHeader — HTTP-заголовок, в котором шлюз передаёт подпись.
	SignatureHeader string
	secret          []byte
}

// NewGateway создаёт интеграцию со шлюзом с shared secret для HMAC.
func NewGateway(name, signatureHeader string, secret []byte) Gateway {
	return Gateway{
		Name:            name,
		SignatureHeader: signatureHeader,
		secret:          secret,
	}
}

// VerifySignature сверяет hex-кодированный HMAC-SHA256 от сырого тела
// webhook с подписью из заголовка. Сравнение — за постоянное время.
func (g Gateway) VerifySignature(body []byte, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// webhookEnvelope — общий конверт callback-ов: шлюзы расходятся только
// в словаре статусов.
type webhookEnvelope struct {
	EventID     string `json:"event_id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
	Reference   string `json:"reference"`
}

// ParsedEvent — нормализованный результат разбора webhook.
type ParsedEvent struct {
	EventID     string
	OrderID     string
	Outcome     domain.PaymentOutcome
	AmountMinor int64
	Reference   string
}

// успешные и отказные статусы в терминах конкретных шлюзов
var outcomeByStatus = map[string]domain.PaymentOutcome{
	// click
	"success": domain.PaymentOutcomeSuccess,
	"failed":  domain.PaymentOutcomeFailure,
	// payme
	"perform": domain.PaymentOutcomeSuccess,
	"cancel":  domain.PaymentOutcomeFailure,
	// uzcard/humo
	"approved": domain.PaymentOutcomeSuccess,
	"declined": domain.PaymentOutcomeFailure,
}

// ParseEvent разбирает тело webhook в нормализованное событие.
func (g Gateway) ParseEvent(body []byte) (ParsedEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ParsedEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.EventID == "" || env.OrderID == "" {
		return ParsedEvent{}, fmt.Errorf("%w: missing event_id or order_id", domain.ErrMalformedPayload)
	}

	outcome, ok := outcomeByStatus[env.Status]
	if !ok {
		return ParsedEvent{}, fmt.Errorf("%w: unknown status %q", domain.ErrMalformedPayload, env.Status)
	}

	return ParsedEvent{
		EventID:     env.EventID,
		OrderID:     env.OrderID,
		Outcome:     outcome,
		AmountMinor: env.AmountMinor,
		Reference:   env.Reference,
	}, nil
}

// GatewaySecrets — shared secrets по кодам шлюзов (из конфигурации).
type GatewaySecrets map[string]string

// DefaultGateways собирает реестр всех поддерживаемых шлюзов.
// Шлюзы без настроенного secret не включаются: webhook от них
// отвергается как неизвестный.
func DefaultGateways(secrets GatewaySecrets) map[string]Gateway {
	headers := map[string]string{
		GatewayClick:  "X-Click-Signature",
		GatewayPayme:  "X-Payme-Signature",
		GatewayUzcard: "X-Uzcard-Signature",
		GatewayHumo:   "X-Humo-Signature",
	}

	gateways := make(map[string]Gateway, len(headers))
	for name, header := range headers {
		secret, ok := secrets[name]
		if !ok || secret == "" {
			continue
		}
		gateways[name] = NewGateway(name, header, []byte(secret))
	}
	return gateways
}
