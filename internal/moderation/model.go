package moderation

import (
	"sort"
	"strings"
	"time"
)

// BanRecord marks an identity as banned until explicitly removed.
type BanRecord struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	BannedBy  string    `gorm:"column:banned_by;size:190;not null;default:''"`
	Reason    string    `gorm:"column:reason;size:500;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds bans to their table.
func (BanRecord) TableName() string {
	return "chat_bans"
}

// TimeoutRecord holds an identity's cooldown expiry. Expired rows are
// purged lazily on read.
type TimeoutRecord struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	ExpiresAtMs int64     `gorm:"column:expires_at_ms;not null"`
	Reason      string    `gorm:"column:reason;size:500;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds timeouts to their table.
func (TimeoutRecord) TableName() string {
	return "chat_timeouts"
}

// BlockRecord marks an unordered identity pair as mutually blocked.
type BlockRecord struct {
	PairKey   string    `gorm:"column:pair_key;primaryKey;size:390;not null"`
	CreatedBy string    `gorm:"column:created_by;size:190;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds blocks to their table.
func (BlockRecord) TableName() string {
	return "chat_blocks"
}

// PinRecord marks a message as pinned in its channel.
type PinRecord struct {
	MessageID string    `gorm:"column:message_id;primaryKey;size:190;not null"`
	Channel   string    `gorm:"column:channel;size:32;not null"`
	PinnedBy  string    `gorm:"column:pinned_by;size:190;not null;default:''"`
	PinnedAt  time.Time `gorm:"column:pinned_at;not null"`
}

// TableName binds pins to their table.
func (PinRecord) TableName() string {
	return "chat_pins"
}

// ChannelFlag holds the disabled switch for one channel family.
type ChannelFlag struct {
	Channel   string    `gorm:"column:channel;primaryKey;size:32;not null"`
	Disabled  bool      `gorm:"column:disabled;not null;default:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName binds channel flags to their table.
func (ChannelFlag) TableName() string {
	return "chat_channel_flags"
}

// PairKey derives the order-independent key for an identity pair.
func PairKey(first, second string) string {
	pair := []string{strings.TrimSpace(first), strings.TrimSpace(second)}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}
