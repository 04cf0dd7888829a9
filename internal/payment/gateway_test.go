package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
)

func testGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	gw := NewGateway("pk_test", "sk_test", true, srv.Client())
	gw.baseURL = srv.URL
	return gw, srv
}

func TestChargeTokenDecodesSuccessModel(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "pk_test" || pass != "sk_test" {
			t.Errorf("expected basic auth pk_test/sk_test, got %q/%q (ok=%v)", user, pass, ok)
		}
		if r.URL.Path != "/payments/tokens/charge" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Success":true,"Message":null,"Model":{"TransactionId":555,"Token":"tok_1","Status":"Completed"}}`))
	})
	defer srv.Close()

	result, err := gw.ChargeToken(context.Background(), 999, "RUB", "acct_1", "tok_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TransactionID != 555 || result.Status != "Completed" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestChargeTokenDeclinedReturnsDeclinedKind(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Success":false,"Message":"Insufficient funds"}`))
	})
	defer srv.Close()

	_, err := gw.ChargeToken(context.Background(), 999, "RUB", "acct_1", "tok_1")
	if !apperr.Of(err, apperr.KindDeclined) {
		t.Fatalf("expected KindDeclined, got %v", err)
	}
}

func TestCallServerErrorIsRetriableKind(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := gw.ChargeToken(context.Background(), 100, "RUB", "acct", "tok")
	if !apperr.Of(err, apperr.KindServerError) {
		t.Fatalf("expected KindServerError, got %v", err)
	}
}

func TestCallRateLimitedReturnsRateLimitedKind(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := gw.ChargeToken(context.Background(), 100, "RUB", "acct", "tok")
	if !apperr.Of(err, apperr.KindRateLimited) {
		t.Fatalf("expected KindRateLimited, got %v", err)
	}
}

func TestCallClientErrorIsNonRetriableKind(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := gw.ChargeToken(context.Background(), 100, "RUB", "acct", "tok")
	if !apperr.Of(err, apperr.KindClientError) {
		t.Fatalf("expected KindClientError, got %v", err)
	}
}

func TestCancelSubscriptionTreatsClientErrorAsSuccess(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	if err := gw.CancelSubscription(context.Background(), "sub_gone"); err != nil {
		t.Fatalf("expected nil error for already-gone subscription, got %v", err)
	}
}

func TestCancelSubscriptionSkipsCallForEmptyID(t *testing.T) {
	calls := 0
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"Success":true}`))
	})
	defer srv.Close()

	if err := gw.CancelSubscription(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no gateway call for empty subscription id, got %d", calls)
	}
}

func TestVerifyWebhookHMACMatchesSortedSignature(t *testing.T) {
	values := url.Values{}
	values.Set("AccountId", "acct_1")
	values.Set("Amount", "9.99")
	values.Set("Status", "Completed")

	mac := hmac.New(sha256.New, []byte("sk_test"))
	mac.Write([]byte("AccountId=acct_1&Amount=9.99&Status=Completed"))
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyWebhookHMAC("sk_test", values, sig) {
		t.Error("expected matching HMAC to verify")
	}
	if VerifyWebhookHMAC("sk_test", values, "deadbeef") {
		t.Error("expected mismatched HMAC to fail")
	}
}

func TestCreateSubscriptionReturnsDecodedModel(t *testing.T) {
	gw, srv := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["Token"] != "tok_2" {
			t.Errorf("expected token tok_2 in request body, got %v", body["Token"])
		}
		w.Write([]byte(`{"Success":true,"Model":{"Id":"sub_123","Status":"Active"}}`))
	})
	defer srv.Close()

	sub, err := gw.CreateSubscription(context.Background(), "acct_1", "tok_2", 999, "RUB", time.Now(), 10, "demo-upgrade")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != "sub_123" {
		t.Errorf("expected subscription id sub_123, got %q", sub.ID)
	}
}
