// Package billing turns Stripe webhook deliveries into subscription updates.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	"github.com/smallbiznis/creatorquota/internal/idempotency"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const provider = "stripe"

// Result reports what happened to a delivery.
type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
}

type Params struct {
	fx.In

	Config       config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Guard        *idempotency.Guard
	Entitlements entitlementdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	secret       string
	proPrices    map[string]struct{}
	log          *zap.Logger
	clock        clock.Clock
	guard        *idempotency.Guard
	entitlements entitlementdomain.Service
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	prices := make(map[string]struct{}, len(p.Config.StripeProPriceIDs))
	for _, id := range p.Config.StripeProPriceIDs {
		prices[id] = struct{}{}
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		secret:       p.Config.StripeWebhookSecret,
		proPrices:    prices,
		log:          p.Log.Named("billing.stripe"),
		clock:        clk,
		guard:        p.Guard,
		entitlements: p.Entitlements,
		metrics:      p.Metrics,
	}
}

// HandleWebhook verifies, claims and applies one Stripe delivery. A failed
// signature never claims the event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (Result, error) {
	if err := VerifySignature(payload, headers, s.secret, s.clock.Now(), DefaultTolerance); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", obsmetrics.OutcomeRejected)
		return Result{}, err
	}

	event, err := parseEvent(payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", obsmetrics.OutcomeRejected)
		return Result{}, err
	}
	result := Result{EventID: event.ID, EventType: event.Type}

	firstSeen, err := s.guard.Claim(ctx, idempotency.EventKey(provider, event.ID))
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeError)
		return result, err
	}
	if !firstSeen {
		result.Duplicate = true
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeDuplicate)
		return result, nil
	}

	update, err := s.toUpdate(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeError)
		s.log.Error("stripe event could not be mapped",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return result, err
	}
	if update == nil {
		result.Ignored = true
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeProcessed)
		return result, nil
	}

	if _, err := s.entitlements.ApplySubscription(ctx, *update); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeError)
		s.log.Error("failed to apply stripe event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return result, err
	}

	s.metrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeProcessed)
	s.log.Info("stripe event applied",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("user_id", update.UserID),
	)
	return result, nil
}

// toUpdate returns nil for event types and objects that do not change
// entitlement.
func (s *Service) toUpdate(ctx context.Context, event stripeEvent) (*entitlementdomain.SubscriptionUpdate, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return s.fromCheckout(event)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return s.fromSubscription(ctx, event)
	default:
		return nil, nil
	}
}

func (s *Service) fromCheckout(event stripeEvent) (*entitlementdomain.SubscriptionUpdate, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, ErrInvalidPayload
	}
	if session.Mode != "" && session.Mode != "subscription" {
		return nil, nil
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		userID = metadataValue(session.Metadata, "user_id")
	}
	if userID == "" {
		s.log.Warn("checkout session without user reference", zap.String("event_id", event.ID))
		return nil, nil
	}

	plan := strings.ToLower(metadataValue(session.Metadata, "plan"))
	if plan == "" {
		plan = entitlementdomain.PlanPro.Key()
	}
	status := entitlementdomain.StatusActive

	update := &entitlementdomain.SubscriptionUpdate{
		UserID: userID,
		Plan:   &plan,
		Status: &status,
	}
	if customer := strings.TrimSpace(session.Customer); customer != "" {
		update.StripeCustomerID = &customer
	}
	if subscription := strings.TrimSpace(session.Subscription); subscription != "" {
		update.StripeSubscriptionID = &subscription
	}
	return update, nil
}

func (s *Service) fromSubscription(ctx context.Context, event stripeEvent) (*entitlementdomain.SubscriptionUpdate, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, ErrInvalidPayload
	}

	userID, err := s.resolveUser(ctx, sub)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		s.log.Warn("stripe subscription for unknown customer",
			zap.String("event_id", event.ID),
			zap.String("customer_id", sub.Customer),
		)
		return nil, nil
	}

	status := strings.ToLower(strings.TrimSpace(sub.Status))
	if event.Type == EventSubscriptionDeleted {
		status = entitlementdomain.StatusCanceled
	}
	plan := s.planFor(sub)
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd

	update := &entitlementdomain.SubscriptionUpdate{
		UserID:            userID,
		Plan:              &plan,
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
	}
	if status != "" {
		update.Status = &status
	}
	if end := sub.periodEnd(); end > 0 {
		t := unixTime(end)
		update.CurrentPeriodEnd = &t
	}

	switch {
	case sub.CancelAt != nil && *sub.CancelAt > 0:
		t := unixTime(*sub.CancelAt)
		update.CancelAt = &t
	case event.Type == EventSubscriptionDeleted && sub.EndedAt != nil && *sub.EndedAt > 0:
		t := unixTime(*sub.EndedAt)
		update.CancelAt = &t
	default:
		update.ClearCancelAt = true
	}

	if customer := strings.TrimSpace(sub.Customer); customer != "" {
		update.StripeCustomerID = &customer
	}
	if id := strings.TrimSpace(sub.ID); id != "" {
		update.StripeSubscriptionID = &id
	}
	if price := sub.priceID(); price != "" {
		update.StripePriceID = &price
	}
	return update, nil
}

func (s *Service) resolveUser(ctx context.Context, sub stripeSubscription) (string, error) {
	if userID := metadataValue(sub.Metadata, "user_id"); userID != "" {
		return userID, nil
	}
	userID, err := s.entitlements.FindUserIDByCustomer(ctx, sub.Customer)
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, entitlementdomain.ErrNotFound), errors.Is(err, entitlementdomain.ErrInvalidCustomer):
		return "", nil
	default:
		return "", err
	}
}

// planFor reads metadata.plan first, then the configured PRO price ids.
func (s *Service) planFor(sub stripeSubscription) string {
	if plan := strings.ToLower(metadataValue(sub.Metadata, "plan")); plan != "" {
		return plan
	}
	for _, item := range sub.Items.Data {
		if _, ok := s.proPrices[strings.TrimSpace(item.Price.ID)]; ok {
			return entitlementdomain.PlanPro.Key()
		}
	}
	return entitlementdomain.PlanFree.Key()
}
