package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChannelFamily distinguishes the two message storage families.
type ChannelFamily string

const (
	// FamilyGlobal is the single broadcast channel.
	FamilyGlobal ChannelFamily = "global"
	// FamilyDM covers all pairwise direct-message threads.
	FamilyDM ChannelFamily = "dm"
)

// GlobalChannelKey is the channel key stored on broadcast messages.
const GlobalChannelKey = "global"

const (
	maxIdentifierLength = 190
	maxBodyLength       = 2000
)

var (
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("chat: invalid user id")
	// ErrInvalidMessageID indicates an empty or oversized message identifier.
	ErrInvalidMessageID = errors.New("chat: invalid message id")
	// ErrInvalidBody indicates an empty or oversized message body.
	ErrInvalidBody = errors.New("chat: invalid message body")
)

// UserID represents a validated participant identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying identifier.
func (id UserID) String() string {
	return string(id)
}

// MessageID represents a validated message identifier.
type MessageID string

// NewMessageID validates raw input and returns a MessageID.
func NewMessageID(rawInput string) (MessageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMessageID, maxIdentifierLength)
	}
	return MessageID(trimmed), nil
}

// String returns the underlying identifier.
func (id MessageID) String() string {
	return string(id)
}

// NewBody trims and bounds a submitted message body.
func NewBody(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBody)
	}
	if len(trimmed) > maxBodyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBody, maxBodyLength)
	}
	return trimmed, nil
}

// ThreadKey derives the deterministic DM thread key for a participant
// pair. Both participants compute the same key regardless of direction.
func ThreadKey(first, second UserID) string {
	pair := []string{first.String(), second.String()}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// Message is a persisted chat message. The shard table is chosen per
// write, so no static TableName binding exists.
type Message struct {
	// The channel/sent composite index is created per shard table by the
	// store; a fixed index name in a tag would collide across shards
	// because sqlite index names are database-global.
	ID         string `gorm:"column:id;primaryKey;size:190;not null"`
	ChannelKey string `gorm:"column:channel_key;size:390;not null"`
	SenderID   string `gorm:"column:sender_id;size:190;not null;index"`
	ReceiverID string `gorm:"column:receiver_id;size:190;not null;default:''"`
	Body       string `gorm:"column:body;type:text;not null"`
	SentAtMs   int64  `gorm:"column:sent_at_ms;not null"`
	EditedAtMs *int64 `gorm:"column:edited_at_ms"`

	// Identity snapshot captured at send time. Fallback only; the read
	// path prefers live-resolved identity.
	SenderName    string `gorm:"column:sender_name;size:320;not null;default:''"`
	SenderAvatar  string `gorm:"column:sender_avatar;size:512;not null;default:''"`
	SenderPremium bool   `gorm:"column:sender_premium;not null;default:false"`
}

// SentAt exposes the send timestamp as time.Time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.SentAtMs).UTC()
}

// AnnotatedMessage is a stored message decorated with live moderation
// and identity state. Annotations are computed on every read and never
// persisted.
type AnnotatedMessage struct {
	Message
	SenderNameLive   string
	SenderAvatarLive string
	SenderIsPremium  bool
	IsBanned         bool
	IsTimedOut       bool
	IsPinned         bool
}
