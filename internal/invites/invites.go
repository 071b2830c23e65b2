package invites

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skinvault/backend/internal/chat"
	"github.com/skinvault/backend/internal/moderation"
	"github.com/skinvault/backend/internal/realtime"
)

var errMissingDatabase = errors.New("invites: database handle is required")

// Status values an invite moves through. Pending is the only state a
// response can act on; accepted and declined are terminal for that
// invite row, though a declined pair may start over with a new invite.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// Invite is a persisted direct-message handshake.
type Invite struct {
	ID            string     `gorm:"column:id;primaryKey;size:190;not null"`
	FromID        string     `gorm:"column:from_id;size:190;not null;index"`
	ToID          string     `gorm:"column:to_id;size:190;not null;index"`
	// The partial unique index is the enforcement point for "at most one
	// non-declined invite per pair": concurrent creates race past the
	// lookup, but only one insert survives.
	PairKey       string     `gorm:"column:pair_key;size:390;not null;index:idx_invites_live_pair,unique,where:status <> 'declined' AND deleted_at IS NULL"`
	Status        string     `gorm:"column:status;size:16;not null"`
	CreatedAtMs   int64      `gorm:"column:created_at_ms;not null"`
	RespondedAtMs *int64     `gorm:"column:responded_at_ms"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     *time.Time `gorm:"column:deleted_at;index"`
}

// TableName binds invites to their table.
func (Invite) TableName() string {
	return "dm_invites"
}

// ModerationGate is the subset of moderation state the handshake
// consults before creating an invite.
type ModerationGate interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
	AreBlocked(ctx context.Context, firstID, secondID string) (bool, error)
}

// ServiceConfig wires the invite service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider chat.IDProvider
	Moderation ModerationGate
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Service owns the direct-message invite handshake.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider chat.IDProvider
	moderation ModerationGate
	publisher  realtime.Publisher
	logger     *zap.Logger
}

// NewService constructs the invite service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("invites: id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		moderation: cfg.Moderation,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// Create proposes a direct-message thread from one user to another.
// A pending invite in either direction, or an already accepted one,
// rejects the proposal; a declined invite leaves the pair free to try
// again.
func (s *Service) Create(ctx context.Context, fromID, toID chat.UserID) (Invite, error) {
	if fromID == toID {
		return Invite{}, chat.NewError(chat.KindInvalidInput, "You cannot invite yourself")
	}

	if s.moderation != nil {
		banned, err := s.moderation.IsBanned(ctx, fromID.String())
		if err != nil {
			return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.create_gate", err)
		}
		if banned {
			return Invite{}, chat.NewError(chat.KindForbidden, "You are banned from chat")
		}
		blocked, err := s.moderation.AreBlocked(ctx, fromID.String(), toID.String())
		if err != nil {
			return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.create_gate", err)
		}
		if blocked {
			return Invite{}, chat.NewError(chat.KindForbidden, "You cannot message this user")
		}
	}

	pairKey := moderation.PairKey(fromID.String(), toID.String())
	var existing Invite
	err := s.db.WithContext(ctx).
		Where("pair_key = ? AND status IN ? AND deleted_at IS NULL",
			pairKey, []string{StatusPending, StatusAccepted}).
		Take(&existing).Error
	if err == nil {
		reason := "An invite is already pending"
		if existing.Status == StatusAccepted {
			reason = "You can already message this user"
		}
		return Invite{}, chat.NewError(chat.KindAlreadyExists, reason)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.create_lookup", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.create_id", err)
	}
	invite := Invite{
		ID:          id,
		FromID:      fromID.String(),
		ToID:        toID.String(),
		PairKey:     pairKey,
		Status:      StatusPending,
		CreatedAtMs: s.clock().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		if isUniqueViolation(err) {
			return Invite{}, chat.NewError(chat.KindAlreadyExists, "An invite is already pending")
		}
		return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.create_insert", err)
	}

	s.publishUpdate(invite)
	return invite, nil
}

// Respond accepts or declines a pending invite. Only the invited user
// may respond; the proposer cannot accept their own invite.
func (s *Service) Respond(ctx context.Context, inviteID string, responderID chat.UserID, accept bool) (Invite, error) {
	var invite Invite
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", inviteID).
		Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Invite{}, chat.NewError(chat.KindNotFound, "Invite not found")
	}
	if err != nil {
		return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.respond_lookup", err)
	}
	if invite.ToID != responderID.String() {
		return Invite{}, chat.NewError(chat.KindForbidden, "Only the invited user can respond")
	}
	if invite.Status != StatusPending {
		return Invite{}, chat.NewError(chat.KindAlreadyProcessed, "Invite was already "+invite.Status)
	}

	status := StatusDeclined
	if accept {
		status = StatusAccepted
	}
	respondedAt := s.clock().UnixMilli()
	result := s.db.WithContext(ctx).
		Model(&Invite{}).
		Where("id = ? AND status = ?", invite.ID, StatusPending).
		Updates(map[string]any{"status": status, "responded_at_ms": respondedAt})
	if result.Error != nil {
		return Invite{}, chat.WrapError(chat.KindUnavailable, "invite.respond_update", result.Error)
	}
	if result.RowsAffected == 0 {
		return Invite{}, chat.NewError(chat.KindAlreadyProcessed, "Invite was already processed")
	}
	invite.Status = status
	invite.RespondedAtMs = &respondedAt

	s.publishUpdate(invite)
	return invite, nil
}

// HasAccepted reports whether the pair holds an accepted invite, the
// precondition for direct messages to flow between them.
func (s *Service) HasAccepted(ctx context.Context, firstID, secondID chat.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Invite{}).
		Where("pair_key = ? AND status = ? AND deleted_at IS NULL",
			moderation.PairKey(firstID.String(), secondID.String()), StatusAccepted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListFilter narrows an invite listing.
type ListFilter struct {
	// Role filters by the caller's side: "sent", "received", or empty
	// for both.
	Role string
	// Status filters by invite status, empty for all.
	Status string
}

// List returns the caller's invites, newest first.
func (s *Service) List(ctx context.Context, userID chat.UserID, filter ListFilter) ([]Invite, error) {
	query := s.db.WithContext(ctx).Model(&Invite{}).Where("deleted_at IS NULL")
	switch filter.Role {
	case "sent":
		query = query.Where("from_id = ?", userID.String())
	case "received":
		query = query.Where("to_id = ?", userID.String())
	default:
		query = query.Where("from_id = ? OR to_id = ?", userID.String(), userID.String())
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var invites []Invite
	if err := query.Order("created_at_ms DESC").Find(&invites).Error; err != nil {
		return nil, chat.WrapError(chat.KindUnavailable, "invite.list", err)
	}
	return invites, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// publishUpdate notifies both participants that their invite list
// changed. Best effort; a missing publisher is fine.
func (s *Service) publishUpdate(invite Invite) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{
		"id":     invite.ID,
		"fromId": invite.FromID,
		"toId":   invite.ToID,
		"status": invite.Status,
	}
	for _, topic := range []string{realtime.DMTopic(invite.FromID), realtime.DMTopic(invite.ToID)} {
		s.publisher.Publish(realtime.Event{
			Topic:   topic,
			Type:    realtime.EventInviteUpdated,
			Payload: payload,
		})
	}
}
