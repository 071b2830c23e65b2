package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("identity: database handle is required")

// ProfileRecord caches the most recently observed display identity for
// a user. Rows are refreshed whenever the out-of-scope profile sync
// observes newer data.
type ProfileRecord struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320;not null;default:''"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512;not null;default:''"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds profiles to their table.
func (ProfileRecord) TableName() string {
	return "user_profiles"
}

// PremiumGrant records a premium subscription expiry for a user.
type PremiumGrant struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	PremiumUntil time.Time `gorm:"column:premium_until;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName binds premium grants to their table.
func (PremiumGrant) TableName() string {
	return "premium_grants"
}

// DirectoryConfig wires the profile directory.
type DirectoryConfig struct {
	Database *gorm.DB
	CacheTTL time.Duration
}

// Directory resolves display identities from the shared profile table,
// with a short-lived in-process cache. The cache is acceptable here
// because identity is presentation data, not a write gate.
type Directory struct {
	db       *gorm.DB
	cacheTTL time.Duration
	cache    sync.Map
}

type cachedProfile struct {
	profile  Profile
	cachedAt time.Time
}

const defaultCacheTTL = 30 * time.Second

// NewDirectory constructs the profile directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Directory{db: cfg.Database, cacheTTL: ttl}, nil
}

// Resolve returns the current profile for a user, or the Unknown
// sentinel when no row exists.
func (d *Directory) Resolve(ctx context.Context, userID string) (Profile, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Unknown, nil
	}
	if entry, ok := d.cache.Load(trimmed); ok {
		cached, valid := entry.(cachedProfile)
		if valid && time.Since(cached.cachedAt) < d.cacheTTL {
			return cached.profile, nil
		}
	}

	var record ProfileRecord
	err := d.db.WithContext(ctx).Where("user_id = ?", trimmed).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Unknown, nil
	}
	if err != nil {
		return Unknown, err
	}

	profile := Profile{DisplayName: record.DisplayName, AvatarURL: record.AvatarURL}
	if profile.DisplayName == "" {
		profile.DisplayName = Unknown.DisplayName
	}
	d.cache.Store(trimmed, cachedProfile{profile: profile, cachedAt: time.Now()})
	return profile, nil
}

// Upsert stores the latest observed profile for a user and refreshes
// the cache entry.
func (d *Directory) Upsert(ctx context.Context, userID string, profile Profile) error {
	record := ProfileRecord{
		UserID:      strings.TrimSpace(userID),
		DisplayName: strings.TrimSpace(profile.DisplayName),
		AvatarURL:   strings.TrimSpace(profile.AvatarURL),
	}
	if record.UserID == "" {
		return nil
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "last_seen_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return err
	}
	d.cache.Store(record.UserID, cachedProfile{
		profile:  Profile{DisplayName: record.DisplayName, AvatarURL: record.AvatarURL},
		cachedAt: time.Now(),
	})
	return nil
}

// PremiumUntil reports the premium expiry for a user, nil when absent.
func (d *Directory) PremiumUntil(ctx context.Context, userID string) (*time.Time, error) {
	var grant PremiumGrant
	err := d.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	until := grant.PremiumUntil
	return &until, nil
}

// SetPremiumUntil stores a premium expiry for a user.
func (d *Directory) SetPremiumUntil(ctx context.Context, userID string, until time.Time) error {
	grant := PremiumGrant{UserID: strings.TrimSpace(userID), PremiumUntil: until}
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"premium_until"}),
		}).
		Create(&grant).Error
}
