package automod

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsSource yields the current automod configuration. When the
// source is unavailable the caller falls back to DefaultSettings.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// SettingsRecord stores the operator-edited configuration as a single
// JSON row, matching the shared-state pattern the moderation flags use.
type SettingsRecord struct {
	Name      string    `gorm:"column:name;primaryKey;size:64;not null"`
	BodyJSON  string    `gorm:"column:body_json;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName binds settings to their table.
func (SettingsRecord) TableName() string {
	return "chat_automod_settings"
}

const settingsRowName = "chat_automod"

// StoredSource reads settings from the shared database with a bounded
// per-lookup timeout.
type StoredSource struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *zap.Logger
}

const defaultLookupTimeout = 2 * time.Second

// NewStoredSource constructs the database-backed settings source.
func NewStoredSource(db *gorm.DB, timeout time.Duration, logger *zap.Logger) (*StoredSource, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoredSource{db: db, timeout: timeout, logger: logger}, nil
}

// Current loads and coerces the stored settings. Missing rows yield the
// defaults without error; malformed rows are reported.
func (s *StoredSource) Current(ctx context.Context) (Settings, error) {
	boundedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var record SettingsRecord
	err := s.db.WithContext(boundedCtx).
		Where("name = ?", settingsRowName).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), err
	}

	var raw Settings
	if err := json.Unmarshal([]byte(record.BodyJSON), &raw); err != nil {
		s.logger.Warn("automod settings malformed", zap.Error(err))
		return DefaultSettings(), err
	}
	return Coerce(raw), nil
}

// Save persists operator-edited settings.
func (s *StoredSource) Save(ctx context.Context, settings Settings) error {
	body, err := json.Marshal(Coerce(settings))
	if err != nil {
		return err
	}
	record := SettingsRecord{Name: settingsRowName, BodyJSON: string(body)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"body_json"}),
		}).
		Create(&record).Error
}
