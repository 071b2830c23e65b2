package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skinvault/backend/internal/identity"
	"github.com/skinvault/backend/internal/moderation"
)

const (
	defaultGlobalRecentDays = 2
	defaultDMRecentDays     = 7
	defaultRetentionDays    = 365
	defaultPageSize         = 50
	maxPageSize             = 200
	defaultResolveTimeout   = 2 * time.Second

	// defaultLoadAllLimit caps a full-history scan so a runaway thread
	// cannot pull unbounded rows into memory in one request.
	defaultLoadAllLimit = 10000
)

// ModerationView is the subset of moderation state the read path
// consults when annotating messages.
type ModerationView interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
	IsTimedOut(ctx context.Context, userID string) (bool, time.Time, error)
	PinnedSet(ctx context.Context, channel string) (map[string]moderation.PinRecord, error)
}

// HistoryConfig wires the paginated read path.
type HistoryConfig struct {
	Store      *Store
	Moderation ModerationView
	Identity   identity.Resolver
	Premium    identity.PremiumChecker
	Clock      func() time.Time
	Logger     *zap.Logger

	GlobalRecentDays int
	DMRecentDays     int
	RetentionDays    int
	DefaultPageSize  int
	MaxPageSize      int
	LoadAllLimit     int
	ResolveTimeout   time.Duration
}

// HistoryEngine serves cursor-paginated message history with read-time
// annotation. Stored rows are never mutated by reads; every annotation
// reflects the live state at query time.
type HistoryEngine struct {
	store      *Store
	moderation ModerationView
	identity   identity.Resolver
	premium    identity.PremiumChecker
	clock      func() time.Time
	logger     *zap.Logger

	globalRecentDays int
	dmRecentDays     int
	retentionDays    int
	defaultPageSize  int
	maxPageSize      int
	loadAllLimit     int
	resolveTimeout   time.Duration
}

// NewHistoryEngine constructs the read path.
func NewHistoryEngine(cfg HistoryConfig) (*HistoryEngine, error) {
	if cfg.Store == nil {
		return nil, errStoreMissingDatabase
	}
	engine := &HistoryEngine{
		store:            cfg.Store,
		moderation:       cfg.Moderation,
		identity:         cfg.Identity,
		premium:          cfg.Premium,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		globalRecentDays: cfg.GlobalRecentDays,
		dmRecentDays:     cfg.DMRecentDays,
		retentionDays:    cfg.RetentionDays,
		defaultPageSize:  cfg.DefaultPageSize,
		maxPageSize:      cfg.MaxPageSize,
		loadAllLimit:     cfg.LoadAllLimit,
		resolveTimeout:   cfg.ResolveTimeout,
	}
	if engine.clock == nil {
		engine.clock = time.Now
	}
	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}
	if engine.globalRecentDays < 1 {
		engine.globalRecentDays = defaultGlobalRecentDays
	}
	if engine.dmRecentDays < 1 {
		engine.dmRecentDays = defaultDMRecentDays
	}
	if engine.retentionDays < 1 {
		engine.retentionDays = defaultRetentionDays
	}
	if engine.defaultPageSize < 1 {
		engine.defaultPageSize = defaultPageSize
	}
	if engine.maxPageSize < 1 {
		engine.maxPageSize = maxPageSize
	}
	if engine.loadAllLimit < 1 {
		engine.loadAllLimit = defaultLoadAllLimit
	}
	if engine.resolveTimeout <= 0 {
		engine.resolveTimeout = defaultResolveTimeout
	}
	return engine, nil
}

// PageRequest describes one history fetch.
type PageRequest struct {
	Family ChannelFamily

	// FirstID and SecondID identify the DM pair. Ignored for the global
	// channel.
	FirstID  UserID
	SecondID UserID

	RequesterID UserID
	IsModerator bool

	// BeforeMs is the exclusive pagination cursor; zero means "from the
	// newest message".
	BeforeMs int64
	PageSize int

	// LoadAll scans the full retention window instead of the recent one
	// and ignores PageSize.
	LoadAll bool

	// PinnedOnly keeps only currently pinned messages.
	PinnedOnly bool
}

// Page is one slice of history, ordered oldest first for rendering.
type Page struct {
	Messages   []AnnotatedMessage
	HasMore    bool
	NextCursor int64

	// Degraded marks a page served as empty because storage could not
	// be reached, distinguishing it from a genuinely empty history.
	Degraded bool
}

// FetchPage returns one page of history ending strictly before the
// cursor.
func (e *HistoryEngine) FetchPage(ctx context.Context, request PageRequest) (Page, error) {
	channelKey, err := e.channelKeyFor(request)
	if err != nil {
		return Page{}, err
	}

	windowDays := e.globalRecentDays
	if request.Family == FamilyDM {
		windowDays = e.dmRecentDays
	}
	if request.LoadAll {
		windowDays = e.retentionDays
	}
	windowDays, err = validateShardDayCount(windowDays, e.retentionDays)
	if err != nil {
		return Page{}, WrapError(KindInvalidInput, "history.window", err)
	}

	pageSize := request.PageSize
	if pageSize < 1 {
		pageSize = e.defaultPageSize
	}
	if pageSize > e.maxPageSize {
		pageSize = e.maxPageSize
	}

	limit := pageSize + 1
	stopEarly := true
	if request.LoadAll {
		limit = e.loadAllLimit
		stopEarly = false
	}

	shards := ShardsForRange(request.Family, windowDays, e.clock)
	filter := Filter{ChannelKey: channelKey, BeforeMs: request.BeforeMs}
	rows, err := e.store.QueryRange(ctx, shards, filter, limit, stopEarly)
	if err != nil {
		e.logger.Warn("history query failed",
			zap.String("channel", channelKey),
			zap.Error(err))
		return Page{Degraded: true}, nil
	}

	hasMore := false
	if request.LoadAll {
		// Hitting the scan cap means older history exists beyond what
		// this response carries; never report a truncated page as
		// complete.
		hasMore = len(rows) >= e.loadAllLimit
	} else if len(rows) > pageSize {
		hasMore = true
		rows = rows[:pageSize]
	}

	var nextCursor int64
	if hasMore && len(rows) > 0 {
		nextCursor = rows[len(rows)-1].SentAtMs
	}

	annotated := e.annotate(ctx, request.Family, rows)
	if request.PinnedOnly {
		annotated = keepPinned(annotated)
	}
	reverseMessages(annotated)

	return Page{Messages: annotated, HasMore: hasMore, NextCursor: nextCursor}, nil
}

// SearchRequest narrows a message search over the retention window.
type SearchRequest struct {
	Family   ChannelFamily
	SenderID string
	Contains string

	// FromMs and ToMs bound the scan inclusively; zero leaves the bound
	// at the retention window edge.
	FromMs int64
	ToMs   int64
	Limit  int
}

// Search scans the retention window for messages matching the filter,
// newest first. This is moderator tooling; results carry the stored
// rows without read-time annotation.
func (e *HistoryEngine) Search(ctx context.Context, request SearchRequest) ([]Message, error) {
	limit := request.Limit
	if limit < 1 {
		limit = e.defaultPageSize
	}
	if limit > e.maxPageSize {
		limit = e.maxPageSize
	}

	now := e.clock().UTC()
	oldest := now.AddDate(0, 0, -(e.retentionDays - 1))
	if request.FromMs > 0 {
		if from := time.UnixMilli(request.FromMs).UTC(); from.After(oldest) {
			oldest = from
		}
	}
	newest := now
	if request.ToMs > 0 {
		if to := time.UnixMilli(request.ToMs).UTC(); to.Before(newest) {
			newest = to
		}
	}

	shards := ShardsForWindow(request.Family, oldest, newest)
	filter := Filter{
		SenderID: strings.TrimSpace(request.SenderID),
		Contains: strings.TrimSpace(request.Contains),
		MinMs:    request.FromMs,
		MaxMs:    request.ToMs,
	}
	rows, err := e.store.QueryRange(ctx, shards, filter, limit, true)
	if err != nil {
		return nil, WrapError(KindUnavailable, "history.search", err)
	}
	return rows, nil
}

// FindMessage locates a message in the retention window of its family.
func (e *HistoryEngine) FindMessage(ctx context.Context, family ChannelFamily, id MessageID) (*Message, Shard, error) {
	shards := ShardsForRange(family, e.retentionDays, e.clock)
	return e.store.FindByID(ctx, shards, id)
}

func (e *HistoryEngine) channelKeyFor(request PageRequest) (string, error) {
	if request.Family != FamilyDM {
		return GlobalChannelKey, nil
	}
	if request.FirstID == "" || request.SecondID == "" {
		return "", NewError(KindInvalidInput, "Both thread participants are required")
	}
	participant := request.RequesterID == request.FirstID || request.RequesterID == request.SecondID
	if !participant && !request.IsModerator {
		return "", NewError(KindForbidden, "You are not part of this conversation")
	}
	return ThreadKey(request.FirstID, request.SecondID), nil
}

// senderState caches per-sender annotation lookups within one page so
// a chatty sender costs one round of queries, not one per message.
type senderState struct {
	profile  identity.Profile
	premium  bool
	banned   bool
	timedOut bool
}

func (e *HistoryEngine) annotate(ctx context.Context, family ChannelFamily, rows []Message) []AnnotatedMessage {
	pinned := e.pinnedSet(ctx, family)

	states := make(map[string]senderState)
	annotated := make([]AnnotatedMessage, 0, len(rows))
	for _, row := range rows {
		state, ok := states[row.SenderID]
		if !ok {
			state = e.resolveSender(ctx, row)
			states[row.SenderID] = state
		}
		annotated = append(annotated, AnnotatedMessage{
			Message:          row,
			SenderNameLive:   state.profile.DisplayName,
			SenderAvatarLive: state.profile.AvatarURL,
			SenderIsPremium:  state.premium,
			IsBanned:         state.banned,
			IsTimedOut:       state.timedOut,
			IsPinned:         pinned[row.ID],
		})
	}
	return annotated
}

func (e *HistoryEngine) resolveSender(ctx context.Context, row Message) senderState {
	fallback := identity.Profile{DisplayName: row.SenderName, AvatarURL: row.SenderAvatar}
	state := senderState{
		profile: identity.ResolveBounded(ctx, e.identity, row.SenderID, e.resolveTimeout, fallback),
		premium: row.SenderPremium,
	}
	if e.premium != nil {
		until, err := e.premium.PremiumUntil(ctx, row.SenderID)
		if err != nil {
			e.logger.Warn("premium lookup failed",
				zap.String("user_id", row.SenderID),
				zap.Error(err))
		} else {
			state.premium = identity.PremiumActive(until, e.clock())
		}
	}
	if e.moderation != nil {
		banned, err := e.moderation.IsBanned(ctx, row.SenderID)
		if err != nil {
			e.logger.Warn("ban lookup failed",
				zap.String("user_id", row.SenderID),
				zap.Error(err))
		} else {
			state.banned = banned
		}
		timedOut, _, err := e.moderation.IsTimedOut(ctx, row.SenderID)
		if err != nil {
			e.logger.Warn("timeout lookup failed",
				zap.String("user_id", row.SenderID),
				zap.Error(err))
		} else {
			state.timedOut = timedOut
		}
	}
	return state
}

func (e *HistoryEngine) pinnedSet(ctx context.Context, family ChannelFamily) map[string]bool {
	if e.moderation == nil {
		return nil
	}
	records, err := e.moderation.PinnedSet(ctx, string(family))
	if err != nil {
		e.logger.Warn("pin lookup failed", zap.Error(err))
		return nil
	}
	pinned := make(map[string]bool, len(records))
	for id := range records {
		pinned[id] = true
	}
	return pinned
}

func keepPinned(messages []AnnotatedMessage) []AnnotatedMessage {
	kept := messages[:0]
	for _, message := range messages {
		if message.IsPinned {
			kept = append(kept, message)
		}
	}
	return kept
}

func reverseMessages(messages []AnnotatedMessage) {
	for left, right := 0, len(messages)-1; left < right; left, right = left+1, right-1 {
		messages[left], messages[right] = messages[right], messages[left]
	}
}
