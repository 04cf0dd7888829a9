package payment

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// rawWebhook mirrors the gateway's notification field names exactly (§6);
// a JSON body uses this shape directly, a form body is read field-by-field
// into the same names.
type rawWebhook struct {
	TransactionID string          `json:"TransactionId"`
	AccountID     string          `json:"AccountId"`
	Amount        json.Number     `json:"Amount"`
	Status        string          `json:"Status"`
	Token         string          `json:"Token"`
	Data          json.RawMessage `json:"Data"`
}

// ParseWebhookBody decodes a payments/webhook body of either content type
// into a WebhookPayload plus the raw form values needed for HMAC
// verification (§6). An unsupported content type returns a nil payload
// and no error: the caller acknowledges (code 0) and takes no action.
func ParseWebhookBody(contentType string, body []byte) (*WebhookPayload, url.Values, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}

	switch {
	case strings.HasPrefix(mediaType, "application/json"):
		return parseJSONWebhook(body)
	case strings.HasPrefix(mediaType, "application/x-www-form-urlencoded"):
		return parseFormWebhook(body)
	default:
		return nil, nil, nil
	}
}

func parseJSONWebhook(body []byte) (*WebhookPayload, url.Values, error) {
	if len(body) == 0 {
		return nil, nil, nil
	}
	var raw rawWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode webhook json body: %w", err)
	}

	values := url.Values{}
	values.Set("TransactionId", raw.TransactionID)
	values.Set("AccountId", raw.AccountID)
	values.Set("Amount", raw.Amount.String())
	values.Set("Status", raw.Status)
	values.Set("Token", raw.Token)
	if len(raw.Data) > 0 {
		values.Set("Data", string(raw.Data))
	}

	return toPayload(raw), values, nil
}

func parseFormWebhook(body []byte) (*WebhookPayload, url.Values, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, nil, fmt.Errorf("decode webhook form body: %w", err)
	}
	if len(values) == 0 {
		return nil, nil, nil
	}

	raw := rawWebhook{
		TransactionID: values.Get("TransactionId"),
		AccountID:     values.Get("AccountId"),
		Amount:        json.Number(values.Get("Amount")),
		Status:        values.Get("Status"),
		Token:         values.Get("Token"),
	}
	if d := values.Get("Data"); d != "" {
		raw.Data = json.RawMessage(d)
	}

	return toPayload(raw), values, nil
}

func toPayload(raw rawWebhook) *WebhookPayload {
	amount, _ := strconv.ParseFloat(raw.Amount.String(), 64)
	payload := &WebhookPayload{
		TransactionID: raw.TransactionID,
		AccountID:     raw.AccountID,
		Amount:        amount,
		Status:        raw.Status,
		Token:         raw.Token,
	}
	if len(raw.Data) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(raw.Data, &data); err == nil {
			payload.Data = data
		}
	}
	return payload
}
