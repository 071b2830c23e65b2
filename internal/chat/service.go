package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skinvault/backend/internal/chat/automod"
	"github.com/skinvault/backend/internal/chat/commands"
	"github.com/skinvault/backend/internal/identity"
	"github.com/skinvault/backend/internal/moderation"
	"github.com/skinvault/backend/internal/realtime"
)

const (
	// SystemSenderID authors synthetic command replies.
	SystemSenderID   = "system"
	systemSenderName = "SkinVault"
)

// ModerationGate is the moderation state the write path consults, in
// addition to the read-side view.
type ModerationGate interface {
	ModerationView
	ChannelEnabled(ctx context.Context, channel string) (bool, error)
	AreBlocked(ctx context.Context, firstID, secondID string) (bool, error)
	SetPinned(ctx context.Context, messageID, channel, pinnedBy string) error
	ClearPinned(ctx context.Context, messageID string) error
}

// InviteGate reports whether a DM pair completed the invite handshake.
type InviteGate interface {
	HasAccepted(ctx context.Context, firstID, secondID UserID) (bool, error)
}

// ServiceConfig wires the message ingestion service.
type ServiceConfig struct {
	Store      *Store
	Moderation ModerationGate
	Invites    InviteGate
	Commands   *commands.Registry
	Automod    automod.SettingsSource
	AutomodLog *automod.Recorder
	Identity   identity.Resolver
	Premium    identity.PremiumChecker
	Publisher  realtime.Publisher
	Clock      func() time.Time
	Logger     *zap.Logger

	GlobalRecentDays int
	DMRecentDays     int
	RetentionDays    int
	ResolveTimeout   time.Duration
}

// Service owns message ingestion: the ordered write gate, persistence
// into the current shard, and best-effort fan-out. A message either
// clears every gate and is stored, or is rejected with a reason; fan-out
// failure never undoes a stored message.
type Service struct {
	store      *Store
	moderation ModerationGate
	invites    InviteGate
	commands   *commands.Registry
	automod    automod.SettingsSource
	automodLog *automod.Recorder
	identity   identity.Resolver
	premium    identity.PremiumChecker
	publisher  realtime.Publisher
	clock      func() time.Time
	logger     *zap.Logger

	globalRecentDays int
	dmRecentDays     int
	retentionDays    int
	resolveTimeout   time.Duration
}

// NewService constructs the ingestion service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errStoreMissingDatabase
	}
	if cfg.Moderation == nil {
		return nil, errors.New("chat: moderation gate is required")
	}
	service := &Service{
		store:            cfg.Store,
		moderation:       cfg.Moderation,
		invites:          cfg.Invites,
		commands:         cfg.Commands,
		automod:          cfg.Automod,
		automodLog:       cfg.AutomodLog,
		identity:         cfg.Identity,
		premium:          cfg.Premium,
		publisher:        cfg.Publisher,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		globalRecentDays: cfg.GlobalRecentDays,
		dmRecentDays:     cfg.DMRecentDays,
		retentionDays:    cfg.RetentionDays,
		resolveTimeout:   cfg.ResolveTimeout,
	}
	if service.clock == nil {
		service.clock = time.Now
	}
	if service.logger == nil {
		service.logger = zap.NewNop()
	}
	if service.globalRecentDays < 1 {
		service.globalRecentDays = defaultGlobalRecentDays
	}
	if service.dmRecentDays < 1 {
		service.dmRecentDays = defaultDMRecentDays
	}
	if service.retentionDays < 1 {
		service.retentionDays = defaultRetentionDays
	}
	if service.resolveTimeout <= 0 {
		service.resolveTimeout = defaultResolveTimeout
	}
	return service, nil
}

// SubmitRequest is one message submission.
type SubmitRequest struct {
	Family   ChannelFamily
	SenderID UserID

	// ReceiverID identifies the DM peer. Ignored for the global channel.
	ReceiverID UserID

	Body string

	// Client-supplied identity snapshot, used as fallback when live
	// resolution is slow and persisted with the message.
	SenderName    string
	SenderAvatar  string
	SenderPremium bool
}

// SubmitResult carries the authoritative stored message and, for
// command invocations, the synthetic reply that followed it.
type SubmitResult struct {
	Message Message
	Reply   *Message
}

// Submit runs a submission through the write gate in its fixed order
// and persists it into today's shard. The returned message carries the
// server-assigned id and timestamp; clients render it directly instead
// of guessing at what was stored.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (SubmitResult, error) {
	body, err := NewBody(request.Body)
	if err != nil {
		return SubmitResult{}, WrapError(KindInvalidInput, "Message cannot be empty", err)
	}
	if request.SenderID == "" {
		return SubmitResult{}, NewError(KindInvalidInput, "Sender is required")
	}
	if request.Family == FamilyDM {
		if request.ReceiverID == "" {
			return SubmitResult{}, NewError(KindInvalidInput, "Recipient is required")
		}
		if request.ReceiverID == request.SenderID {
			return SubmitResult{}, NewError(KindInvalidInput, "You cannot message yourself")
		}
	}

	if err := s.checkGates(ctx, request); err != nil {
		return SubmitResult{}, err
	}

	profile := s.resolveIdentity(ctx, request)
	premium := s.resolvePremium(ctx, request)

	var pingTarget string
	var reply *commands.Command
	var replyArgs string
	if ping := commands.ParsePing(body); ping != nil {
		pingTarget = ping.TargetID
		body = commands.PingPlaceholder(profile.DisplayName, ping.TargetID)
	} else if invocation := commands.ParseInvocation(body); invocation != nil && s.commands != nil {
		command, lookupErr := s.commands.Lookup(ctx, invocation.Slug)
		if lookupErr == nil {
			reply = &command
			replyArgs = invocation.Args
		} else if !errors.Is(lookupErr, commands.ErrCommandNotFound) {
			s.logger.Warn("command lookup failed",
				zap.String("slug", invocation.Slug),
				zap.Error(lookupErr))
		}
	}

	if err := s.checkAutomod(ctx, request, body); err != nil {
		return SubmitResult{}, err
	}

	message := Message{
		ChannelKey:    s.channelKey(request),
		SenderID:      request.SenderID.String(),
		ReceiverID:    request.ReceiverID.String(),
		Body:          body,
		SentAtMs:      s.clock().UnixMilli(),
		SenderName:    profile.DisplayName,
		SenderAvatar:  profile.AvatarURL,
		SenderPremium: premium,
	}
	shard := TodayShard(request.Family, s.clock)
	if _, err := s.store.Insert(ctx, shard, &message); err != nil {
		return SubmitResult{}, WrapError(KindUnavailable, "message.store", err)
	}

	s.publishMessage(realtime.EventNewMessage, request.Family, message)
	if pingTarget != "" {
		s.publishPing(request.SenderID.String(), profile.DisplayName, pingTarget)
	}

	result := SubmitResult{Message: message}
	if reply != nil {
		result.Reply = s.sendCommandReply(ctx, request, *reply, replyArgs, profile)
	}
	return result, nil
}

// checkGates applies the rejection gates in their documented order:
// channel flag, ban, block, timeout, invite handshake. The first gate
// that trips decides the rejection reason.
func (s *Service) checkGates(ctx context.Context, request SubmitRequest) error {
	enabled, err := s.moderation.ChannelEnabled(ctx, string(request.Family))
	if err != nil {
		return WrapError(KindUnavailable, "message.gate_channel", err)
	}
	if !enabled {
		return NewError(KindForbidden, "Chat is currently disabled")
	}

	banned, err := s.moderation.IsBanned(ctx, request.SenderID.String())
	if err != nil {
		return WrapError(KindUnavailable, "message.gate_ban", err)
	}
	if banned {
		return NewError(KindForbidden, "You are banned from chat")
	}

	if request.Family == FamilyDM {
		blocked, err := s.moderation.AreBlocked(ctx, request.SenderID.String(), request.ReceiverID.String())
		if err != nil {
			return WrapError(KindUnavailable, "message.gate_block", err)
		}
		if blocked {
			return NewError(KindForbidden, "You cannot message this user")
		}
	}

	timedOut, expiry, err := s.moderation.IsTimedOut(ctx, request.SenderID.String())
	if err != nil {
		return WrapError(KindUnavailable, "message.gate_timeout", err)
	}
	if timedOut {
		return NewError(KindTimedOut, moderation.TimeoutMessage(s.clock(), expiry))
	}

	if request.Family == FamilyDM && s.invites != nil {
		accepted, err := s.invites.HasAccepted(ctx, request.SenderID, request.ReceiverID)
		if err != nil {
			return WrapError(KindUnavailable, "message.gate_invite", err)
		}
		if !accepted {
			return NewError(KindForbidden, "You can only message users who accepted an invite")
		}
	}
	return nil
}

// checkAutomod evaluates the body that will actually be stored. A
// rejection is recorded for moderator review before being returned.
func (s *Service) checkAutomod(ctx context.Context, request SubmitRequest, body string) error {
	if s.automod == nil {
		return nil
	}
	settings, err := s.automod.Current(ctx)
	if err != nil {
		// The gate falls back to defaults rather than blocking sends on
		// a slow settings read.
		s.logger.Warn("automod settings lookup failed", zap.Error(err))
	}
	decision := automod.Check(body, settings)
	if decision.Allowed {
		return nil
	}
	if s.automodLog != nil {
		event := automod.Event{
			Channel:    string(request.Family),
			SenderID:   request.SenderID.String(),
			ReceiverID: request.ReceiverID.String(),
			Reason:     decision.Reason,
			Body:       body,
		}
		if appendErr := s.automodLog.Append(ctx, event); appendErr != nil {
			s.logger.Warn("automod event append failed", zap.Error(appendErr))
		}
	}
	return NewError(KindModerationRejected, decision.Reason)
}

// EditMessage replaces a message body. Only the author or a moderator
// may edit, and only within the family's retention window.
func (s *Service) EditMessage(ctx context.Context, family ChannelFamily, id MessageID, requesterID UserID, isModerator bool, newBody string) (Message, error) {
	body, err := NewBody(newBody)
	if err != nil {
		return Message{}, WrapError(KindInvalidInput, "Message cannot be empty", err)
	}
	shards := s.editWindow(family)
	message, shard, err := s.store.FindByID(ctx, shards, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return Message{}, NewError(KindNotFound, "Message not found")
		}
		return Message{}, WrapError(KindUnavailable, "message.edit_lookup", err)
	}
	if message.SenderID != requesterID.String() && !isModerator {
		return Message{}, NewError(KindForbidden, "You can only edit your own messages")
	}
	editedAt := s.clock()
	if err := s.store.UpdateBody(ctx, []Shard{shard}, id, body, editedAt); err != nil {
		return Message{}, WrapError(KindUnavailable, "message.edit_update", err)
	}
	message.Body = body
	editedMs := editedAt.UnixMilli()
	message.EditedAtMs = &editedMs

	s.publishMessage(realtime.EventMessageEdited, family, *message)
	return *message, nil
}

// DeleteMessage removes a message permanently. Only the author or a
// moderator may delete.
func (s *Service) DeleteMessage(ctx context.Context, family ChannelFamily, id MessageID, requesterID UserID, isModerator bool) error {
	shards := s.editWindow(family)
	message, shard, err := s.store.FindByID(ctx, shards, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return NewError(KindNotFound, "Message not found")
		}
		return WrapError(KindUnavailable, "message.delete_lookup", err)
	}
	if message.SenderID != requesterID.String() && !isModerator {
		return NewError(KindForbidden, "You can only delete your own messages")
	}
	if err := s.store.Delete(ctx, []Shard{shard}, id); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return NewError(KindNotFound, "Message not found")
		}
		return WrapError(KindUnavailable, "message.delete", err)
	}

	s.publishMessage(realtime.EventMessageDeleted, family, *message)
	return nil
}

// DeleteMessages removes a batch of messages on a moderator's behalf
// and reports how many rows actually went away. Ids that no longer
// exist are skipped, so a sweep over a stale selection still finishes;
// the first storage failure aborts with the partial count.
func (s *Service) DeleteMessages(ctx context.Context, family ChannelFamily, ids []MessageID, moderatorID UserID) (int, error) {
	if len(ids) == 0 {
		return 0, NewError(KindInvalidInput, "At least one message id is required")
	}
	deleted := 0
	for _, id := range ids {
		err := s.DeleteMessage(ctx, family, id, moderatorID, true)
		if err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// PinMessage pins an existing message in its channel family.
func (s *Service) PinMessage(ctx context.Context, family ChannelFamily, id MessageID, moderatorID UserID) error {
	shards := ShardsForRange(family, s.retentionDays, s.clock)
	message, _, err := s.store.FindByID(ctx, shards, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return NewError(KindNotFound, "Message not found")
		}
		return WrapError(KindUnavailable, "message.pin_lookup", err)
	}
	if err := s.moderation.SetPinned(ctx, id.String(), string(family), moderatorID.String()); err != nil {
		return WrapError(KindUnavailable, "message.pin", err)
	}
	s.publishMessage(realtime.EventMessagePinned, family, *message)
	return nil
}

// UnpinMessage removes a pin. Unpinning an absent pin succeeds quietly.
func (s *Service) UnpinMessage(ctx context.Context, family ChannelFamily, id MessageID) error {
	if err := s.moderation.ClearPinned(ctx, id.String()); err != nil {
		return WrapError(KindUnavailable, "message.unpin", err)
	}
	shards := ShardsForRange(family, s.retentionDays, s.clock)
	if message, _, err := s.store.FindByID(ctx, shards, id); err == nil {
		s.publishMessage(realtime.EventMessageUnpinned, family, *message)
	}
	return nil
}

func (s *Service) editWindow(family ChannelFamily) []Shard {
	days := s.globalRecentDays
	if family == FamilyDM {
		days = s.dmRecentDays
	}
	return ShardsForRange(family, days, s.clock)
}

func (s *Service) channelKey(request SubmitRequest) string {
	if request.Family == FamilyDM {
		return ThreadKey(request.SenderID, request.ReceiverID)
	}
	return GlobalChannelKey
}

func (s *Service) resolveIdentity(ctx context.Context, request SubmitRequest) identity.Profile {
	fallback := identity.Profile{
		DisplayName: request.SenderName,
		AvatarURL:   request.SenderAvatar,
	}
	return identity.ResolveBounded(ctx, s.identity, request.SenderID.String(), s.resolveTimeout, fallback)
}

func (s *Service) resolvePremium(ctx context.Context, request SubmitRequest) bool {
	if s.premium == nil {
		return request.SenderPremium
	}
	until, err := s.premium.PremiumUntil(ctx, request.SenderID.String())
	if err != nil {
		s.logger.Warn("premium lookup failed",
			zap.String("user_id", request.SenderID.String()),
			zap.Error(err))
		return request.SenderPremium
	}
	return identity.PremiumActive(until, s.clock())
}

// sendCommandReply persists and fans out the synthetic response to a
// recognized command. Reply failures are logged, never surfaced: the
// sender's own message already landed.
func (s *Service) sendCommandReply(ctx context.Context, request SubmitRequest, command commands.Command, args string, profile identity.Profile) *Message {
	rendered := commands.Render(command.Response, commands.RenderVars{
		UserName: profile.DisplayName,
		UserID:   request.SenderID.String(),
		Args:     args,
	})
	if rendered == "" {
		return nil
	}
	reply := Message{
		ChannelKey: s.channelKey(request),
		SenderID:   SystemSenderID,
		ReceiverID: request.ReceiverID.String(),
		Body:       rendered,
		SentAtMs:   s.clock().UnixMilli(),
		SenderName: systemSenderName,
	}
	shard := TodayShard(request.Family, s.clock)
	if _, err := s.store.Insert(ctx, shard, &reply); err != nil {
		s.logger.Warn("command reply store failed",
			zap.String("slug", command.Slug),
			zap.Error(err))
		return nil
	}
	s.publishMessage(realtime.EventNewMessage, request.Family, reply)
	return &reply
}

// publishMessage fans a stored message out to its topics. Best effort:
// a missing publisher or a slow subscriber never fails the write.
func (s *Service) publishMessage(eventType string, family ChannelFamily, message Message) {
	if s.publisher == nil {
		return
	}
	payload := messagePayload(message)
	if family == FamilyDM {
		for _, topic := range []string{realtime.DMTopic(message.SenderID), realtime.DMTopic(message.ReceiverID)} {
			s.publisher.Publish(realtime.Event{Topic: topic, Type: eventType, Payload: payload})
		}
		return
	}
	s.publisher.Publish(realtime.Event{Topic: realtime.GlobalTopic, Type: eventType, Payload: payload})
}

func (s *Service) publishPing(senderID, senderName, targetID string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.Event{
		Topic: realtime.DMTopic(targetID),
		Type:  realtime.EventPing,
		Payload: map[string]any{
			"fromId":   senderID,
			"fromName": senderName,
		},
	})
}

func messagePayload(message Message) map[string]any {
	payload := map[string]any{
		"id":         message.ID,
		"channelKey": message.ChannelKey,
		"senderId":   message.SenderID,
		"body":       message.Body,
		"sentAtMs":   message.SentAtMs,
		"senderName": message.SenderName,
	}
	if message.ReceiverID != "" {
		payload["receiverId"] = message.ReceiverID
	}
	if message.EditedAtMs != nil {
		payload["editedAtMs"] = *message.EditedAtMs
	}
	return payload
}
