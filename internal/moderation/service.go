package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("moderation: database handle is required")

// ServiceConfig wires the moderation state service. The IDProvider is
// only needed when reports are filed through this service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider interface{ NewID() (string, error) }
	Logger     *zap.Logger
}

// Service exposes the shared moderation state. Every read goes to the
// persistence layer so write gates always observe the freshest
// committed value; no in-process cache sits on this path.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService constructs the moderation state service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := func() (string, error) { return "", errors.New("moderation: id provider required") }
	if cfg.IDProvider != nil {
		newID = cfg.IDProvider.NewID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, newID: newID, logger: logger}, nil
}

// Ban marks a user as banned until explicitly removed.
func (s *Service) Ban(ctx context.Context, userID, bannedBy, reason string) error {
	record := BanRecord{UserID: userID, BannedBy: bannedBy, Reason: reason}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&record).Error
}

// Unban removes a ban. Removing an absent ban is not an error.
func (s *Service) Unban(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&BanRecord{}).Error
}

// IsBanned reports whether the user is currently banned.
func (s *Service) IsBanned(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&BanRecord{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Timeout places a user in cooldown until the given expiry.
func (s *Service) Timeout(ctx context.Context, userID string, until time.Time, reason string) error {
	record := TimeoutRecord{UserID: userID, ExpiresAtMs: until.UnixMilli(), Reason: reason}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at_ms", "reason"}),
		}).
		Create(&record).Error
}

// ClearTimeout removes a user's cooldown.
func (s *Service) ClearTimeout(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&TimeoutRecord{}).Error
}

// IsTimedOut reports whether the user is in cooldown and, if so, when
// it expires. An expired row is purged on read so storage does not
// grow unbounded; the purge is idempotent under concurrent readers.
func (s *Service) IsTimedOut(ctx context.Context, userID string) (bool, time.Time, error) {
	var record TimeoutRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	expiry := time.UnixMilli(record.ExpiresAtMs).UTC()
	if !expiry.After(s.clock()) {
		if purgeErr := s.db.WithContext(ctx).
			Where("user_id = ? AND expires_at_ms = ?", userID, record.ExpiresAtMs).
			Delete(&TimeoutRecord{}).Error; purgeErr != nil {
			s.logger.Warn("timeout purge failed",
				zap.String("user_id", userID),
				zap.Error(purgeErr))
		}
		return false, time.Time{}, nil
	}
	return true, expiry, nil
}

// PurgeExpiredTimeouts removes every timeout whose expiry has passed.
func (s *Service) PurgeExpiredTimeouts(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at_ms <= ?", s.clock().UnixMilli()).
		Delete(&TimeoutRecord{}).Error
}

// Block records a mutual block between two users.
func (s *Service) Block(ctx context.Context, requesterID, peerID string) error {
	record := BlockRecord{PairKey: PairKey(requesterID, peerID), CreatedBy: requesterID}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pair_key"}}, DoNothing: true}).
		Create(&record).Error
}

// Unblock removes a mutual block. Removing an absent block is not an error.
func (s *Service) Unblock(ctx context.Context, requesterID, peerID string) error {
	return s.db.WithContext(ctx).
		Where("pair_key = ?", PairKey(requesterID, peerID)).
		Delete(&BlockRecord{}).Error
}

// AreBlocked reports whether either user has blocked the other. The
// check is order-independent.
func (s *Service) AreBlocked(ctx context.Context, firstID, secondID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("pair_key = ?", PairKey(firstID, secondID)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPinned pins a message in its channel.
func (s *Service) SetPinned(ctx context.Context, messageID, channel, pinnedBy string) error {
	record := PinRecord{
		MessageID: messageID,
		Channel:   channel,
		PinnedBy:  pinnedBy,
		PinnedAt:  s.clock().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel", "pinned_by", "pinned_at"}),
		}).
		Create(&record).Error
}

// ClearPinned unpins a message. Unpinning an absent pin is not an error.
func (s *Service) ClearPinned(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&PinRecord{}).Error
}

// PinnedSet returns the pinned message ids for a channel family.
func (s *Service) PinnedSet(ctx context.Context, channel string) (map[string]PinRecord, error) {
	var records []PinRecord
	if err := s.db.WithContext(ctx).Where("channel = ?", channel).Find(&records).Error; err != nil {
		return nil, err
	}
	pinned := make(map[string]PinRecord, len(records))
	for _, record := range records {
		pinned[record.MessageID] = record
	}
	return pinned, nil
}

// ChannelEnabled reports whether the channel family accepts writes.
// Channels without a flag row are enabled.
func (s *Service) ChannelEnabled(ctx context.Context, channel string) (bool, error) {
	var flag ChannelFlag
	err := s.db.WithContext(ctx).Where("channel = ?", channel).Take(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !flag.Disabled, nil
}

// SetChannelEnabled flips the disabled flag for a channel family.
func (s *Service) SetChannelEnabled(ctx context.Context, channel string, enabled bool) error {
	flag := ChannelFlag{Channel: channel, Disabled: !enabled}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"disabled"}),
		}).
		Create(&flag).Error
}

// RemainingMinutes reports the whole minutes left on a cooldown,
// rounded up, for the rejection message shown to the sender.
func RemainingMinutes(now, expiry time.Time) int {
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// TimeoutMessage renders the sender-facing cooldown rejection.
func TimeoutMessage(now, expiry time.Time) string {
	return fmt.Sprintf("You are timed out for %d more minute(s)", RemainingMinutes(now, expiry))
}
