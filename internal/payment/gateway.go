// Package payment implements the subscription lifecycle: an HTTP client
// for the external card/subscription gateway (C9) and the service layer
// that drives SubscriptionHistory through its states (C10).
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
)

const (
	testBaseURL       = "https://api.test.cloudpayments.ru"
	productionBaseURL = "https://api.cloudpayments.ru"
)

// envelope is the gateway's uniform response shape (§4.9, §6): every
// endpoint replies with Success/Message and an operation-specific Model.
type envelope struct {
	Success bool            `json:"Success"`
	Message string          `json:"Message"`
	Model   json.RawMessage `json:"Model"`
}

// ChargeResult is the Model of a successful charge-by-cryptogram or
// charge-by-token call.
type ChargeResult struct {
	TransactionID int64  `json:"TransactionId"`
	Token         string `json:"Token"`
	CardType      string `json:"CardType"`
	CardLastFour  string `json:"CardLastFour"`
	Status        string `json:"Status"`
}

// Subscription is the Model shape of the subscriptions/{create,get,find} family.
type Subscription struct {
	ID                  string     `json:"Id"`
	AccountID           string     `json:"AccountId"`
	Amount              float64    `json:"Amount"`
	Currency            string     `json:"Currency"`
	Status              string     `json:"Status"`
	NextTransactionDate *time.Time `json:"NextTransactionDateIso,omitempty"`
}

// Gateway is a hand-rolled client for the external provider. Every call
// uses HTTP Basic auth with public_id:api_secret and a distinct base URL
// per environment (§4.9); there is no SDK whose wire shape matches this
// provider's {Success, Message, Model} envelope, so this composes plain
// net/http directly rather than the hedging internal/httpclient — a
// charge must never be sent more than once, which hedging's "fire several,
// take the first" shape cannot guarantee.
type Gateway struct {
	client   *http.Client
	baseURL  string
	publicID string
	secret   string
}

// NewGateway builds a Gateway. testMode selects the sandbox base URL.
func NewGateway(publicID, secret string, testMode bool, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := productionBaseURL
	if testMode {
		base = testBaseURL
	}
	return &Gateway{client: client, baseURL: base, publicID: publicID, secret: secret}
}

// ChargeCryptogram performs a single charge from a one-time card cryptogram
// (payments/cards/charge).
func (g *Gateway) ChargeCryptogram(ctx context.Context, amountCents int64, currency, accountID, cryptogram, description string) (*ChargeResult, error) {
	body := map[string]interface{}{
		"Amount":      centsToAmount(amountCents),
		"Currency":    currency,
		"AccountId":   accountID,
		"Cryptogram":  cryptogram,
		"Description": description,
	}
	var result ChargeResult
	if err := g.call(ctx, "payments/cards/charge", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChargeToken charges a previously stored card token (payments/tokens/charge).
func (g *Gateway) ChargeToken(ctx context.Context, amountCents int64, currency, accountID, token string) (*ChargeResult, error) {
	body := map[string]interface{}{
		"Amount":    centsToAmount(amountCents),
		"Currency":  currency,
		"AccountId": accountID,
		"Token":     token,
	}
	var result ChargeResult
	if err := g.call(ctx, "payments/tokens/charge", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateSubscription starts a recurrent plan (subscriptions/create).
func (g *Gateway) CreateSubscription(ctx context.Context, accountID, token string, amountCents int64, currency string, startAt time.Time, periodDays int, description string) (*Subscription, error) {
	body := map[string]interface{}{
		"Token":               token,
		"AccountId":           accountID,
		"Description":         description,
		"Amount":              centsToAmount(amountCents),
		"Currency":            currency,
		"RequireConfirmation": false,
		"StartDate":           startAt.UTC().Format(time.RFC3339),
		"Interval":            "Day",
		"Period":              periodDays,
	}
	var sub Subscription
	if err := g.call(ctx, "subscriptions/create", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription fetches a subscription by its gateway id (subscriptions/get).
func (g *Gateway) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	body := map[string]interface{}{"Id": id}
	var sub Subscription
	if err := g.call(ctx, "subscriptions/get", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscription changes the amount of a live subscription
// (subscriptions/update).
func (g *Gateway) UpdateSubscription(ctx context.Context, id string, amountCents int64) (*Subscription, error) {
	body := map[string]interface{}{"Id": id, "Amount": centsToAmount(amountCents)}
	var sub Subscription
	if err := g.call(ctx, "subscriptions/update", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription stops a recurrent plan (subscriptions/cancel). A
// missing or already-cancelled id is treated as success: cancelling what
// is already gone should not fail the caller's state transition.
func (g *Gateway) CancelSubscription(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	body := map[string]interface{}{"Id": id}
	var discard json.RawMessage
	err := g.call(ctx, "subscriptions/cancel", body, &discard)
	if apperr.Of(err, apperr.KindClientError) {
		return nil
	}
	return err
}

// FindSubscriptions looks up subscriptions for an account (subscriptions/find).
func (g *Gateway) FindSubscriptions(ctx context.Context, accountID string) ([]Subscription, error) {
	body := map[string]interface{}{"AccountId": accountID}
	var subs []Subscription
	if err := g.call(ctx, "subscriptions/find", body, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// call performs one authenticated gateway request and decodes the Model
// field into out. Status handling mirrors §4.1: 2xx decodes, 429 is a
// retriable rate-limited error and 5xx a retriable server error (the caller, not this client, decides whether to
// retry — a charge is never safe to retry blindly), 4xx is non-retriable.
func (g *Gateway) call(ctx context.Context, path string, payload interface{}, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return apperr.New(apperr.KindValidation, "encode gateway request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+path, bytes.NewReader(buf))
	if err != nil {
		return apperr.New(apperr.KindConnection, "build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.publicID, g.secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return apperr.New(apperr.KindConnection, fmt.Sprintf("gateway call %s", path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindConnection, "read gateway response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, fmt.Sprintf("gateway %s rate limited", path), nil)
	case resp.StatusCode >= 500:
		return apperr.New(apperr.KindServerError, fmt.Sprintf("gateway %s server error %d", path, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return apperr.New(apperr.KindClientError, fmt.Sprintf("gateway %s client error %d", path, resp.StatusCode), nil)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperr.New(apperr.KindServerError, fmt.Sprintf("decode gateway %s response", path), err)
	}
	if !env.Success {
		return apperr.New(apperr.KindDeclined, env.Message, nil)
	}
	if out != nil && len(env.Model) > 0 {
		if err := json.Unmarshal(env.Model, out); err != nil {
			return apperr.New(apperr.KindServerError, fmt.Sprintf("decode gateway %s model", path), err)
		}
	}
	return nil
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// VerifyWebhookHMAC checks the X-Content-HMAC signature on a webhook
// notification: SHA-256 HMAC over the alphabetically sorted
// "key=value&..." encoding of the form values, keyed by the gateway
// secret, compared constant-time (§6).
func VerifyWebhookHMAC(secret string, values url.Values, signatureHex string) bool {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		for _, v := range values[k] {
			pairs = append(pairs, k+"="+v)
		}
	}
	message := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}
