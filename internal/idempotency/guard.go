// Package idempotency gates side effects of at-least-once delivered events.
//
// A claim is the insert of a processed_events row. The unique key on
// event_id is the only coordination; there is no processing state, so an
// event whose handler fails after a successful claim is treated as handled.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidEventID = errors.New("invalid_event_id")

// ProcessedEvent marks an event id as claimed.
type ProcessedEvent struct {
	EventID   string    `gorm:"primaryKey;type:varchar(255)"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }

// EventKey builds a provider-qualified event id such as
// "replicate:abc123:succeeded".
func EventKey(provider, id string, qualifiers ...string) string {
	parts := make([]string, 0, 2+len(qualifiers))
	parts = append(parts, strings.TrimSpace(provider), strings.TrimSpace(id))
	for _, q := range qualifiers {
		if q = strings.TrimSpace(q); q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, ":")
}

type GuardParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewGuard(p GuardParam) *Guard {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Guard{
		db:    p.DB,
		log:   p.Log.Named("idempotency"),
		clock: clk,
	}
}

// Claim records eventID. firstSeen is false when the event was already
// claimed; that outcome is not an error.
func (g *Guard) Claim(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ErrInvalidEventID
	}

	err := g.db.WithContext(ctx).Create(&ProcessedEvent{
		EventID:   eventID,
		CreatedAt: g.clock.Now(),
	}).Error
	if err == nil {
		return true, nil
	}
	if db.IsDuplicateKeyErr(err) {
		g.log.Debug("duplicate event", zap.String("event_id", eventID))
		return false, nil
	}
	return false, err
}

var Module = fx.Module("idempotency",
	fx.Provide(NewGuard),
)
