package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/skinvault/backend/internal/identity"
	"github.com/skinvault/backend/internal/moderation"
)

type stubModerationView struct {
	banned   map[string]bool
	timedOut map[string]bool
	pinned   map[string]moderation.PinRecord
}

func (s *stubModerationView) IsBanned(_ context.Context, userID string) (bool, error) {
	return s.banned[userID], nil
}

func (s *stubModerationView) IsTimedOut(_ context.Context, userID string) (bool, time.Time, error) {
	return s.timedOut[userID], time.Time{}, nil
}

func (s *stubModerationView) PinnedSet(context.Context, string) (map[string]moderation.PinRecord, error) {
	return s.pinned, nil
}

type stubResolver struct {
	profiles map[string]identity.Profile
}

func (s *stubResolver) Resolve(_ context.Context, userID string) (identity.Profile, error) {
	profile, ok := s.profiles[userID]
	if !ok {
		return identity.Unknown, nil
	}
	return profile, nil
}

type stubPremium struct {
	until map[string]time.Time
}

func (s *stubPremium) PremiumUntil(_ context.Context, userID string) (*time.Time, error) {
	expiry, ok := s.until[userID]
	if !ok {
		return nil, nil
	}
	return &expiry, nil
}

func newTestHistoryEngine(t *testing.T, store *Store, view ModerationView, clock func() time.Time) *HistoryEngine {
	t.Helper()

	engine, err := NewHistoryEngine(HistoryConfig{
		Store:      store,
		Moderation: view,
		Identity:   &stubResolver{profiles: map[string]identity.Profile{}},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build history engine: %v", err)
	}
	return engine
}

func TestFetchPageChainsCompletelyAcrossShards(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(now)

	yesterday := ShardForDay(FamilyGlobal, now.AddDate(0, 0, -1))
	today := ShardForDay(FamilyGlobal, now)

	total := 31
	for index := 0; index < total; index++ {
		shard := today
		if index < 15 {
			shard = yesterday
		}
		message := Message{
			ChannelKey: GlobalChannelKey,
			SenderID:   "sender-1",
			Body:       fmt.Sprintf("message-%02d", index),
			SentAtMs:   int64(1000 + index*10),
		}
		if _, err := store.Insert(ctx, shard, &message); err != nil {
			t.Fatalf("insert %d failed: %v", index, err)
		}
	}

	engine := newTestHistoryEngine(t, store, &stubModerationView{}, clock)

	seen := make(map[string]bool)
	cursor := int64(0)
	pages := 0
	for {
		page, err := engine.FetchPage(ctx, PageRequest{
			Family:      FamilyGlobal,
			RequesterID: mustUserID(t, "reader-1"),
			BeforeMs:    cursor,
			PageSize:    10,
		})
		if err != nil {
			t.Fatalf("page %d failed: %v", pages, err)
		}
		if page.Degraded {
			t.Fatalf("unexpected degraded page")
		}
		for index := 1; index < len(page.Messages); index++ {
			if page.Messages[index-1].SentAtMs > page.Messages[index].SentAtMs {
				t.Fatalf("expected oldest-first ordering within page")
			}
		}
		for _, message := range page.Messages {
			if seen[message.Body] {
				t.Fatalf("message %s delivered twice", message.Body)
			}
			seen[message.Body] = true
		}
		pages++
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != total {
		t.Fatalf("expected all %d messages across pages, got %d", total, len(seen))
	}
	if pages != 4 {
		t.Fatalf("expected 4 pages for 31 messages at size 10, got %d", pages)
	}
}

func TestFetchPageLoadAllReturnsEverything(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(now)

	// One message several days old, beyond the recent window.
	old := ShardForDay(FamilyGlobal, now.AddDate(0, 0, -5))
	if _, err := store.Insert(ctx, old, &Message{ChannelKey: GlobalChannelKey, SenderID: "s", Body: "ancient", SentAtMs: 10}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	today := ShardForDay(FamilyGlobal, now)
	if _, err := store.Insert(ctx, today, &Message{ChannelKey: GlobalChannelKey, SenderID: "s", Body: "fresh", SentAtMs: 20}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	engine := newTestHistoryEngine(t, store, &stubModerationView{}, clock)

	recent, err := engine.FetchPage(ctx, PageRequest{Family: FamilyGlobal, RequesterID: mustUserID(t, "reader")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent.Messages) != 1 {
		t.Fatalf("expected only the fresh message in the recent window, got %d", len(recent.Messages))
	}

	full, err := engine.FetchPage(ctx, PageRequest{Family: FamilyGlobal, RequesterID: mustUserID(t, "reader"), LoadAll: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(full.Messages) != 2 {
		t.Fatalf("expected the full history, got %d messages", len(full.Messages))
	}
	if full.HasMore {
		t.Fatalf("load-all under the scan cap reports a complete page, got HasMore")
	}
}

func TestFetchPageLoadAllReportsMoreAtScanCap(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(now)

	shard := ShardForDay(FamilyGlobal, now)
	for index := 0; index < 6; index++ {
		message := Message{
			ChannelKey: GlobalChannelKey,
			SenderID:   "s",
			Body:       fmt.Sprintf("row-%d", index),
			SentAtMs:   int64(100 + index),
		}
		if _, err := store.Insert(ctx, shard, &message); err != nil {
			t.Fatalf("insert %d failed: %v", index, err)
		}
	}

	engine, err := NewHistoryEngine(HistoryConfig{
		Store:        store,
		Moderation:   &stubModerationView{},
		Identity:     &stubResolver{profiles: map[string]identity.Profile{}},
		Clock:        clock,
		LoadAllLimit: 5,
	})
	if err != nil {
		t.Fatalf("failed to build history engine: %v", err)
	}

	page, err := engine.FetchPage(ctx, PageRequest{Family: FamilyGlobal, RequesterID: mustUserID(t, "reader"), LoadAll: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 5 {
		t.Fatalf("expected the scan cap to bound the page, got %d messages", len(page.Messages))
	}
	if !page.HasMore {
		t.Fatalf("a load-all page truncated at the scan cap must report more history")
	}
	if page.NextCursor == 0 {
		t.Fatalf("expected a cursor for the remaining history")
	}
}

func TestFetchPageAnnotatesLiveState(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(now)

	shard := ShardForDay(FamilyGlobal, now)
	message := Message{
		ChannelKey: GlobalChannelKey,
		SenderID:   "sender-1",
		Body:       "hello",
		SentAtMs:   100,
		SenderName: "Old Name",
	}
	if _, err := store.Insert(ctx, shard, &message); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	view := &stubModerationView{
		banned:   map[string]bool{"sender-1": true},
		timedOut: map[string]bool{"sender-1": true},
		pinned:   map[string]moderation.PinRecord{message.ID: {MessageID: message.ID}},
	}
	engine, err := NewHistoryEngine(HistoryConfig{
		Store:      store,
		Moderation: view,
		Identity: &stubResolver{profiles: map[string]identity.Profile{
			"sender-1": {DisplayName: "New Name", AvatarURL: "https://cdn/avatar.png"},
		}},
		Premium: &stubPremium{until: map[string]time.Time{"sender-1": now.Add(time.Hour)}},
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("failed to build history engine: %v", err)
	}

	page, err := engine.FetchPage(ctx, PageRequest{Family: FamilyGlobal, RequesterID: mustUserID(t, "reader")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(page.Messages))
	}
	annotated := page.Messages[0]
	if annotated.SenderNameLive != "New Name" {
		t.Fatalf("expected live name, got %q", annotated.SenderNameLive)
	}
	if annotated.SenderName != "Old Name" {
		t.Fatalf("stored snapshot must not be rewritten, got %q", annotated.SenderName)
	}
	if !annotated.SenderIsPremium || !annotated.IsBanned || !annotated.IsTimedOut || !annotated.IsPinned {
		t.Fatalf("expected live annotations set, got %+v", annotated)
	}
}

func TestFetchPageRejectsOutsiderOnDMThread(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestHistoryEngine(t, store, &stubModerationView{}, fixedClock(now))

	request := PageRequest{
		Family:      FamilyDM,
		FirstID:     mustUserID(t, "alpha"),
		SecondID:    mustUserID(t, "bravo"),
		RequesterID: mustUserID(t, "charlie"),
	}
	if _, err := engine.FetchPage(context.Background(), request); KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}

	request.IsModerator = true
	if _, err := engine.FetchPage(context.Background(), request); err != nil {
		t.Fatalf("expected moderator access, got %v", err)
	}
}

func TestFetchPageServesDegradedPageWhenStorageFails(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	shard := ShardForDay(FamilyGlobal, now)
	if _, err := store.Insert(ctx, shard, &Message{ChannelKey: GlobalChannelKey, SenderID: "s", Body: "m", SentAtMs: 1}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	engine := newTestHistoryEngine(t, store, &stubModerationView{}, fixedClock(now))

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close database: %v", err)
	}

	page, err := engine.FetchPage(ctx, PageRequest{Family: FamilyGlobal, RequesterID: mustUserID(t, "reader")})
	if err != nil {
		t.Fatalf("degraded pages are served, not failed: %v", err)
	}
	if !page.Degraded || len(page.Messages) != 0 {
		t.Fatalf("expected empty degraded page, got %+v", page)
	}
}

func TestSearchFiltersBySenderBodyAndTimeBounds(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock(now)

	yesterday := ShardForDay(FamilyGlobal, now.AddDate(0, 0, -1))
	today := ShardForDay(FamilyGlobal, now)
	yesterdayMs := now.AddDate(0, 0, -1).UnixMilli()
	todayMs := now.UnixMilli()
	rows := []struct {
		shard  Shard
		sender string
		body   string
		sentAt int64
	}{
		{yesterday, "seller-1", "selling a karambit fade", yesterdayMs},
		{yesterday, "seller-2", "selling stickers", yesterdayMs + 1000},
		{today, "seller-1", "karambit still available", todayMs - 2*60*60*1000},
		{today, "seller-1", "also trading gloves", todayMs},
	}
	for index, fixture := range rows {
		message := Message{
			ChannelKey: GlobalChannelKey,
			SenderID:   fixture.sender,
			Body:       fixture.body,
			SentAtMs:   fixture.sentAt,
		}
		if _, err := store.Insert(ctx, fixture.shard, &message); err != nil {
			t.Fatalf("insert %d failed: %v", index, err)
		}
	}

	engine := newTestHistoryEngine(t, store, &stubModerationView{}, clock)

	bySender, err := engine.Search(ctx, SearchRequest{Family: FamilyGlobal, SenderID: "seller-1"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(bySender) != 3 {
		t.Fatalf("expected 3 messages from seller-1, got %d", len(bySender))
	}
	if bySender[0].SentAtMs != todayMs {
		t.Fatalf("expected newest-first results, got %v", bySender[0])
	}

	byBody, err := engine.Search(ctx, SearchRequest{Family: FamilyGlobal, Contains: "KARAMBIT"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(byBody) != 2 {
		t.Fatalf("expected case-insensitive substring match on 2 rows, got %d", len(byBody))
	}

	bounded, err := engine.Search(ctx, SearchRequest{
		Family:   FamilyGlobal,
		SenderID: "seller-1",
		FromMs:   yesterdayMs + 500,
		ToMs:     todayMs - 60*60*1000,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(bounded) != 1 || bounded[0].SentAtMs != todayMs-2*60*60*1000 {
		t.Fatalf("expected the single in-bounds row, got %v", bounded)
	}

	limited, err := engine.Search(ctx, SearchRequest{Family: FamilyGlobal, Limit: 2})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit to cap results, got %d", len(limited))
	}
}
