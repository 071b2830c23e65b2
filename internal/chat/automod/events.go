package automod

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxEventRows      = 200
	maxReasonLength   = 200
	maxRejectedLength = 240
)

var errMissingDatabase = errors.New("automod: database handle is required")

// Event records one automod rejection for moderator review.
type Event struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Channel    string    `gorm:"column:channel;size:32;not null"`
	SenderID   string    `gorm:"column:sender_id;size:190;not null"`
	ReceiverID string    `gorm:"column:receiver_id;size:190;not null;default:''"`
	Reason     string    `gorm:"column:reason;size:200;not null"`
	Body       string    `gorm:"column:body;size:240;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
}

// TableName binds events to their table.
func (Event) TableName() string {
	return "chat_automod_events"
}

// RecorderConfig wires the rejection log.
type RecorderConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider interface{ NewID() (string, error) }
	Logger     *zap.Logger
}

// Recorder appends automod rejections to a capped log. Rejections are
// auditable, never silently dropped.
type Recorder struct {
	db     *gorm.DB
	clock  func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewRecorder constructs the rejection log.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := func() (string, error) { return "", errors.New("automod: id provider required") }
	if cfg.IDProvider != nil {
		newID = cfg.IDProvider.NewID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: cfg.Database, clock: clock, newID: newID, logger: logger}, nil
}

// Append records a rejection and prunes the log to its cap. Logging
// failures are reported to the caller so the ingestion pipeline can
// decide how loudly to complain; they never block the rejection itself.
func (r *Recorder) Append(ctx context.Context, event Event) error {
	id, err := r.newID()
	if err != nil {
		return err
	}
	event.ID = id
	event.Reason = clip(event.Reason, maxReasonLength)
	event.Body = clip(event.Body, maxRejectedLength)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.clock().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		return err
	}
	r.prune(ctx)
	return nil
}

// Recent returns up to limit rejection events, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit < 1 || limit > maxEventRows {
		limit = maxEventRows
	}
	var events []Event
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Clear empties the rejection log.
func (r *Recorder) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&Event{}).Error
}

func (r *Recorder) prune(ctx context.Context) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Event{}).Count(&count).Error; err != nil {
		r.logger.Warn("automod event count failed", zap.Error(err))
		return
	}
	if count <= maxEventRows {
		return
	}
	excess := count - maxEventRows
	var stale []Event
	err := r.db.WithContext(ctx).
		Order("occurred_at ASC").
		Limit(int(excess)).
		Find(&stale).Error
	if err != nil {
		r.logger.Warn("automod event prune lookup failed", zap.Error(err))
		return
	}
	ids := make([]string, 0, len(stale))
	for _, event := range stale {
		ids = append(ids, event.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Event{}).Error; err != nil {
		r.logger.Warn("automod event prune failed", zap.Error(err))
	}
}

func clip(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max]
}
