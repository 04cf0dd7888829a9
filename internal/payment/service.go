package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/logger"
)

// defaultCurrency is the gateway's billing currency; the spec's amounts
// (§4.10 demo recurring price) are denominated in it.
const defaultCurrency = "RUB"

// Store is the subset of *database.DB the payment service needs (§4.10).
type Store interface {
	GetTariffByName(name string) (*database.Tariff, error)
	GetTariffByID(id int64) (*database.Tariff, error)
	GetUserByExternalID(externalID string) (*database.User, error)
	GetUserByID(id int64) (*database.User, error)
	UpdateUserSubscriptionState(userID int64, tariffID *int64, isPaid bool, start, end *time.Time, remaining *int64) error
	CreatePayment(p *database.Payment) (*database.Payment, error)
	GetPaymentByExternalTxnID(txnID string) (*database.Payment, error)
	FindCompletedPaymentWithToken(userID, tariffID int64) (*database.Payment, error)
	CreateSubscription(s *database.SubscriptionHistory) (*database.SubscriptionHistory, error)
	GetActiveOrPausedSubscription(userID int64) (*database.SubscriptionHistory, error)
	UpdateSubscription(s *database.SubscriptionHistory) error
}

// GatewayClient is the subset of *Gateway the service needs, narrowed so
// tests can fake it without a live gateway.
type GatewayClient interface {
	ChargeCryptogram(ctx context.Context, amountCents int64, currency, accountID, cryptogram, description string) (*ChargeResult, error)
	ChargeToken(ctx context.Context, amountCents int64, currency, accountID, token string) (*ChargeResult, error)
	CreateSubscription(ctx context.Context, accountID, token string, amountCents int64, currency string, startAt time.Time, periodDays int, description string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
}

// Service coordinates user subscription state with the gateway (§4.10).
type Service struct {
	db Store
	gw GatewayClient
}

// NewService builds a Service.
func NewService(db Store, gw GatewayClient) *Service {
	return &Service{db: db, gw: gw}
}

// WebhookPayload is the gateway notification shape after content-type
// normalization (§6 webhook/payments).
type WebhookPayload struct {
	TransactionID string
	AccountID     string
	Amount        float64
	Status        string
	Token         string
	Data          map[string]interface{}
}

// ActivateSubscriptionSimple is an idempotent activation (§4.10). When a
// card token is given it reuses any completed, token-carrying payment for
// the same user and tariff (the stored token is not compared with the
// given one) rather than recording a second one (§7 idempotency, §8 round-trip law).
func (s *Service) ActivateSubscriptionSimple(ctx context.Context, user *database.User, tariff *database.Tariff, transactionID, cardToken string) (*database.SubscriptionHistory, error) {
	var payment *database.Payment
	if cardToken != "" {
		if p, err := s.db.FindCompletedPaymentWithToken(user.ID, tariff.ID); err == nil && p != nil {
			payment = p
		}
	}
	if payment == nil {
		created, err := s.db.CreatePayment(&database.Payment{
			UserID:        user.ID,
			TariffID:      &tariff.ID,
			Status:        consts.PaymentCompleted,
			AmountCents:   tariff.PriceCents,
			Currency:      defaultCurrency,
			Method:        "card",
			ExternalTxnID: transactionID,
			CardToken:     cardToken,
			IsRecurrent:   cardToken != "",
		})
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		payment = created
	}
	_ = payment

	now := time.Now()
	var end *time.Time
	if tariff.DurationDays != nil {
		t := now.AddDate(0, 0, int(*tariff.DurationDays))
		end = &t
	}
	if err := s.db.UpdateUserSubscriptionState(user.ID, &tariff.ID, true, &now, end, tariff.QuotaCount); err != nil {
		return nil, fmt.Errorf("update user subscription state: %w", err)
	}

	sub := &database.SubscriptionHistory{
		UserID:      user.ID,
		TariffID:    tariff.ID,
		Start:       now,
		End:         end,
		Status:      consts.SubscriptionActive,
		AutoRenewal: cardToken != "",
		CardToken:   cardToken,
	}

	if tariff.Name == consts.TariffDemo && cardToken != "" {
		exclusive, err := s.db.GetTariffByName(consts.TariffExclusive)
		if err != nil || exclusive == nil {
			logger.Warn("demo activation could not resolve exclusive tariff for upgrade plan", map[string]interface{}{"user_id": user.ID, "error": errString(err)})
		} else {
			next := now.Add(consts.DemoFirstChargeDelay)
			sub.NextPaymentDate = &next
			sub.OriginalTariffID = &exclusive.ID
			gwSub, err := s.gw.CreateSubscription(ctx, user.ExternalID, cardToken, consts.DemoRecurringAmount, defaultCurrency, next, consts.DemoRecurringPeriodDays, "demo-upgrade")
			if err != nil {
				logger.Warn("failed to create gateway subscription for demo upgrade", map[string]interface{}{"user_id": user.ID, "error": err.Error()})
			} else {
				sub.GatewaySubscriptionID = gwSub.ID
			}
		}
	}

	created, err := s.db.CreateSubscription(sub)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return created, nil
}

// CreateRecurrentSubscription always provisions a gateway-side recurrent
// plan for the demo tariff or the exclusive tariff; any other tariff falls
// back to the simple (non-recurring-gateway) activation (§4.10).
func (s *Service) CreateRecurrentSubscription(ctx context.Context, user *database.User, tariff *database.Tariff, cardToken, transactionID string) (*database.SubscriptionHistory, error) {
	if tariff.Name != consts.TariffDemo && tariff.Name != consts.TariffExclusive {
		return s.ActivateSubscriptionSimple(ctx, user, tariff, transactionID, cardToken)
	}

	now := time.Now()
	start := now.Add(consts.RecurringFirstChargeDelay)
	if tariff.Name == consts.TariffDemo {
		start = now.Add(consts.DemoFirstChargeDelay)
	}

	gwSub, err := s.gw.CreateSubscription(ctx, user.ExternalID, cardToken, consts.DemoRecurringAmount, defaultCurrency, start, consts.DemoRecurringPeriodDays, "recurrent:"+tariff.Name)
	if err != nil {
		return nil, fmt.Errorf("create gateway subscription: %w", err)
	}

	sub, err := s.ActivateSubscriptionSimple(ctx, user, tariff, transactionID, cardToken)
	if err != nil {
		return nil, err
	}
	sub.GatewaySubscriptionID = gwSub.ID
	sub.NextPaymentDate = &start
	sub.AutoRenewal = true
	if err := s.db.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// PauseSubscription cancels the gateway-side plan and marks the local
// subscription paused, preserving the card token so the scheduler can
// resume it later (§4.10, §4.11 step 2).
func (s *Service) PauseSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || sub.Status != consts.SubscriptionActive {
		return nil, apperr.New(apperr.KindValidation, "no active subscription to pause", nil)
	}
	if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, fmt.Errorf("cancel gateway subscription: %w", err)
	}

	now := time.Now()
	sub.Status = consts.SubscriptionPaused
	sub.AutoRenewal = false
	sub.LastPaymentAttempt = &now
	sub.PausedAt = &now
	if err := s.db.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// ResumeSubscription restarts billing for a paused subscription on the
// same card token, starting one day out (§4.10).
func (s *Service) ResumeSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil || sub.Status != consts.SubscriptionPaused {
		return nil, apperr.New(apperr.KindValidation, "no paused subscription to resume", nil)
	}
	tariff, err := s.db.GetTariffByID(sub.TariffID)
	if err != nil || tariff == nil {
		return nil, fmt.Errorf("load tariff: %w", err)
	}

	start := time.Now().Add(24 * time.Hour)
	gwSub, err := s.gw.CreateSubscription(ctx, user.ExternalID, sub.CardToken, tariff.PriceCents, defaultCurrency, start, consts.DemoRecurringPeriodDays, "resume:"+tariff.Name)
	if err != nil {
		return nil, fmt.Errorf("create gateway subscription: %w", err)
	}

	sub.Status = consts.SubscriptionActive
	sub.AutoRenewal = true
	sub.GatewaySubscriptionID = gwSub.ID
	sub.NextPaymentDate = &start
	if err := s.db.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription terminally cancels the active or paused subscription,
// clearing the user's paid state (§4.10).
func (s *Service) CancelSubscription(ctx context.Context, user *database.User) error {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return apperr.New(apperr.KindValidation, "no subscription to cancel", nil)
	}
	if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return fmt.Errorf("cancel gateway subscription: %w", err)
	}

	sub.Status = consts.SubscriptionCancelled
	sub.AutoRenewal = false
	if err := s.db.UpdateSubscription(sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return s.db.UpdateUserSubscriptionState(user.ID, nil, false, nil, nil, nil)
}

// StopAutoRenewal is the soft counterpart to CancelSubscription (§6
// "cancel" vs "cancel_full"): it stops future gateway charges but
// leaves the user's current paid period and access untouched, unlike
// CancelSubscription's immediate termination.
func (s *Service) StopAutoRenewal(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil, apperr.New(apperr.KindValidation, "no subscription to cancel", nil)
	}
	if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, fmt.Errorf("cancel gateway subscription: %w", err)
	}

	sub.AutoRenewal = false
	sub.GatewaySubscriptionID = ""
	if err := s.db.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// ProcessPurchase charges a one-time card cryptogram and activates
// tariff for user (§6 "purchase"). Any existing auto-renewing
// subscription is cancelled first so a new purchase never leaves two
// gateway plans billing the same user.
func (s *Service) ProcessPurchase(ctx context.Context, user *database.User, tariff *database.Tariff, cryptogram string) (*database.SubscriptionHistory, error) {
	if existing, err := s.db.GetActiveOrPausedSubscription(user.ID); err == nil && existing != nil && existing.AutoRenewal {
		if cancelErr := s.gw.CancelSubscription(ctx, existing.GatewaySubscriptionID); cancelErr != nil {
			logger.Warn("failed to cancel gateway subscription ahead of new purchase", map[string]interface{}{"user_id": user.ID, "error": cancelErr.Error()})
		}
		existing.Status = consts.SubscriptionCancelled
		existing.AutoRenewal = false
		if updErr := s.db.UpdateSubscription(existing); updErr != nil {
			logger.Warn("failed to mark prior subscription cancelled ahead of new purchase", map[string]interface{}{"user_id": user.ID, "error": updErr.Error()})
		}
	}

	charge, err := s.gw.ChargeCryptogram(ctx, tariff.PriceCents, defaultCurrency, user.ExternalID, cryptogram, "purchase:"+tariff.Name)
	if err != nil {
		return nil, err
	}

	return s.CreateRecurrentSubscription(ctx, user, tariff, charge.Token, fmt.Sprintf("%d", charge.TransactionID))
}

// HandlePaymentNotification dispatches a gateway webhook (§4.10). It is
// idempotent on TransactionID: a replayed notification for a payment
// already recorded is a no-op (§7 idempotency, §8 round-trip law).
func (s *Service) HandlePaymentNotification(ctx context.Context, payload WebhookPayload) error {
	if payload.TransactionID != "" {
		if existing, err := s.db.GetPaymentByExternalTxnID(payload.TransactionID); err == nil && existing != nil {
			return nil
		}
	}

	user, err := s.db.GetUserByExternalID(payload.AccountID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown gateway account %q", payload.AccountID), nil)
	}

	switch payload.Status {
	case consts.GatewayCompleted:
		return s.handleCompleted(ctx, user, payload)
	case consts.GatewayDeclined:
		return s.handleDeclined(ctx, user, payload)
	default:
		return nil
	}
}

func (s *Service) handleCompleted(ctx context.Context, user *database.User, payload WebhookPayload) error {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	amountCents := int64(math.Round(payload.Amount * 100))

	switch {
	case sub == nil:
		// No local subscription yet: record the payment and wait for the
		// client's own activate_subscription_simple call (§7 idempotency).
		p := &database.Payment{
			UserID:        user.ID,
			Status:        consts.PaymentCompleted,
			AmountCents:   amountCents,
			Currency:      defaultCurrency,
			Method:        "card",
			ExternalTxnID: payload.TransactionID,
			CardToken:     payload.Token,
			IsRecurrent:   payload.Token != "",
		}
		if tariffID := tariffIDFromData(payload.Data); tariffID != 0 {
			p.TariffID = &tariffID
		}
		_, err := s.db.CreatePayment(p)
		return err

	case sub.CardToken == "":
		tariff, err := s.db.GetTariffByID(sub.TariffID)
		if err != nil || tariff == nil {
			return fmt.Errorf("load tariff: %w", err)
		}
		sub.CardToken = payload.Token

		now := time.Now()
		start := now.Add(consts.RecurringFirstChargeDelay)
		if tariff.Name == consts.TariffDemo {
			start = now.Add(consts.DemoFirstChargeDelay)
		}
		gwSub, err := s.gw.CreateSubscription(ctx, user.ExternalID, payload.Token, consts.DemoRecurringAmount, defaultCurrency, start, consts.DemoRecurringPeriodDays, "webhook-activate:"+tariff.Name)
		if err != nil {
			logger.Warn("failed to create gateway subscription from webhook token", map[string]interface{}{"user_id": user.ID, "error": err.Error()})
		} else {
			sub.GatewaySubscriptionID = gwSub.ID
		}
		sub.NextPaymentDate = &start
		sub.AutoRenewal = true
		if err := s.db.UpdateSubscription(sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		_, err = s.db.CreatePayment(&database.Payment{
			UserID:         user.ID,
			TariffID:       &sub.TariffID,
			SubscriptionID: &sub.ID,
			Status:         consts.PaymentCompleted,
			AmountCents:    amountCents,
			Currency:       defaultCurrency,
			Method:         "card",
			ExternalTxnID:  payload.TransactionID,
			CardToken:      payload.Token,
			IsRecurrent:    true,
		})
		return err

	default:
		tariff, err := s.db.GetTariffByID(sub.TariffID)
		if err != nil || tariff == nil {
			return fmt.Errorf("load tariff: %w", err)
		}
		current, err := s.db.GetUserByID(user.ID)
		if err != nil || current == nil {
			return fmt.Errorf("load user: %w", err)
		}

		sub.FailedAttempts = 0
		next := time.Now().Add(consts.RecurringFirstChargeDelay)
		sub.NextPaymentDate = &next
		if err := s.db.UpdateSubscription(sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		end := current.SubscriptionEnd
		if tariff.DurationDays != nil {
			base := time.Now()
			if end != nil && end.After(base) {
				base = *end
			}
			t := base.AddDate(0, 0, int(*tariff.DurationDays))
			end = &t
		}
		if err := s.db.UpdateUserSubscriptionState(user.ID, &sub.TariffID, true, current.SubscriptionStart, end, current.RemainingRequests); err != nil {
			return fmt.Errorf("extend user subscription: %w", err)
		}

		_, err = s.db.CreatePayment(&database.Payment{
			UserID:         user.ID,
			TariffID:       &sub.TariffID,
			SubscriptionID: &sub.ID,
			Status:         consts.PaymentCompleted,
			AmountCents:    amountCents,
			Currency:       defaultCurrency,
			Method:         "card",
			ExternalTxnID:  payload.TransactionID,
			CardToken:      sub.CardToken,
			IsRecurrent:    true,
		})
		return err
	}
}

func (s *Service) handleDeclined(ctx context.Context, user *database.User, _ WebhookPayload) error {
	sub, err := s.db.GetActiveOrPausedSubscription(user.ID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return nil
	}

	now := time.Now()
	sub.FailedAttempts++
	sub.LastPaymentAttempt = &now
	if sub.FailedAttempts >= 3 {
		if err := s.db.UpdateSubscription(sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		return s.DowngradeCascade(ctx, sub)
	}
	next := now.Add(24 * time.Hour)
	sub.NextPaymentDate = &next
	return s.db.UpdateSubscription(sub)
}

// AttemptRecurrentCharge runs one due-recurrent charge cycle for sub
// (§4.11 step 1): charges the gateway for the original tariff's amount
// when set (demo→exclusive upgrade window), else the current tariff's.
// On success it extends the subscription and resets failures; on decline
// it applies the same escalation rule as handleDeclined. The returned
// bool reports whether a downgrade cascade fired, so the scheduler knows
// whether to retry immediately with the new tariff (§4.11 step 1 twist).
func (s *Service) AttemptRecurrentCharge(ctx context.Context, sub *database.SubscriptionHistory) (downgraded bool, err error) {
	chargeTariffID := sub.TariffID
	if sub.OriginalTariffID != nil {
		chargeTariffID = *sub.OriginalTariffID
	}
	tariff, err := s.db.GetTariffByID(chargeTariffID)
	if err != nil || tariff == nil {
		return false, fmt.Errorf("load charge tariff: %w", err)
	}
	user, err := s.db.GetUserByID(sub.UserID)
	if err != nil || user == nil {
		return false, fmt.Errorf("load user: %w", err)
	}

	result, chargeErr := s.gw.ChargeToken(ctx, tariff.PriceCents, defaultCurrency, user.ExternalID, sub.CardToken)
	if chargeErr != nil && !apperr.Of(chargeErr, apperr.KindDeclined) {
		return false, fmt.Errorf("charge token: %w", chargeErr)
	}

	if chargeErr == nil {
		now := time.Now()
		sub.FailedAttempts = 0
		next := now.Add(consts.RecurringFirstChargeDelay)
		sub.NextPaymentDate = &next
		if sub.OriginalTariffID != nil {
			sub.TariffID = *sub.OriginalTariffID
			sub.OriginalTariffID = nil
		}
		if err := s.db.UpdateSubscription(sub); err != nil {
			return false, fmt.Errorf("update subscription: %w", err)
		}

		end := user.SubscriptionEnd
		if tariff.DurationDays != nil {
			base := now
			if end != nil && end.After(base) {
				base = *end
			}
			t := base.AddDate(0, 0, int(*tariff.DurationDays))
			end = &t
		}
		if err := s.db.UpdateUserSubscriptionState(user.ID, &sub.TariffID, true, user.SubscriptionStart, end, user.RemainingRequests); err != nil {
			return false, fmt.Errorf("extend user subscription: %w", err)
		}

		txnID := ""
		if result != nil {
			txnID = fmt.Sprintf("%d", result.TransactionID)
		}
		_, err = s.db.CreatePayment(&database.Payment{
			UserID:         user.ID,
			TariffID:       &tariff.ID,
			SubscriptionID: &sub.ID,
			Status:         consts.PaymentCompleted,
			AmountCents:    tariff.PriceCents,
			Currency:       defaultCurrency,
			Method:         "card",
			ExternalTxnID:  txnID,
			CardToken:      sub.CardToken,
			IsRecurrent:    true,
		})
		return false, err
	}

	// Declined.
	now := time.Now()
	sub.FailedAttempts++
	sub.LastPaymentAttempt = &now
	if sub.FailedAttempts >= 3 {
		if err := s.db.UpdateSubscription(sub); err != nil {
			return false, fmt.Errorf("update subscription: %w", err)
		}
		if err := s.DowngradeCascade(ctx, sub); err != nil {
			return false, err
		}
		return true, nil
	}
	next := now.Add(24 * time.Hour)
	sub.NextPaymentDate = &next
	return false, s.db.UpdateSubscription(sub)
}

// DowngradeCascade moves sub to the next tariff in the closed downgrade
// map, or cancels it terminally if the chain has no successor (§4.10).
// Exported because §4.11 invokes it directly from the scheduler as well.
func (s *Service) DowngradeCascade(ctx context.Context, sub *database.SubscriptionHistory) error {
	tariff, err := s.db.GetTariffByID(sub.TariffID)
	if err != nil || tariff == nil {
		return fmt.Errorf("load tariff: %w", err)
	}
	user, err := s.db.GetUserByID(sub.UserID)
	if err != nil || user == nil {
		return fmt.Errorf("load user: %w", err)
	}

	nextName, ok := consts.NextDowngrade(tariff.Name)
	if !ok {
		if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
			logger.Warn("failed to cancel gateway subscription on terminal downgrade", map[string]interface{}{"subscription_id": sub.ID, "error": err.Error()})
		}
		sub.Status = consts.SubscriptionCancelled
		sub.AutoRenewal = false
		if err := s.db.UpdateSubscription(sub); err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		return s.db.UpdateUserSubscriptionState(user.ID, nil, false, user.SubscriptionStart, user.SubscriptionEnd, user.RemainingRequests)
	}

	nextTariff, err := s.db.GetTariffByName(nextName)
	if err != nil || nextTariff == nil {
		return fmt.Errorf("load downgrade tariff %q: %w", nextName, err)
	}

	if err := s.gw.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		logger.Warn("failed to cancel gateway subscription before downgrade", map[string]interface{}{"subscription_id": sub.ID, "error": err.Error()})
	}

	start := time.Now().Add(24 * time.Hour)
	gwSub, err := s.gw.CreateSubscription(ctx, user.ExternalID, sub.CardToken, nextTariff.PriceCents, defaultCurrency, start, consts.DemoRecurringPeriodDays, "downgrade:"+nextName)
	if err != nil {
		return fmt.Errorf("create downgrade gateway subscription: %w", err)
	}

	sub.TariffID = nextTariff.ID
	sub.GatewaySubscriptionID = gwSub.ID
	sub.FailedAttempts = 0
	sub.DowngradeAttempts++
	sub.NextPaymentDate = &start
	if err := s.db.UpdateSubscription(sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return s.db.UpdateUserSubscriptionState(user.ID, &nextTariff.ID, true, user.SubscriptionStart, user.SubscriptionEnd, user.RemainingRequests)
}

func tariffIDFromData(data map[string]interface{}) int64 {
	if data == nil {
		return 0
	}
	switch v := data["tariff_id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func errString(err error) string {
	if err == nil {
		return "tariff not found"
	}
	return err.Error()
}
