package moderation

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct{ next int }

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("id-%03d", s.next), nil
}

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:moderation_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(&BanRecord{}, &TimeoutRecord{}, &BlockRecord{}, &PinRecord{}, &ChannelFlag{}, &ReportRecord{})
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func TestBanLifecycle(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if err := service.Ban(ctx, "alpha", "mod-1", "scamming"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	// A second ban for the same user is a no-op, not a conflict.
	if err := service.Ban(ctx, "alpha", "mod-2", "again"); err != nil {
		t.Fatalf("repeated ban failed: %v", err)
	}

	banned, err := service.IsBanned(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !banned {
		t.Fatalf("expected alpha to be banned")
	}

	if err := service.Unban(ctx, "alpha"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}
	if err := service.Unban(ctx, "alpha"); err != nil {
		t.Fatalf("repeated unban failed: %v", err)
	}
	banned, err = service.IsBanned(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if banned {
		t.Fatalf("expected ban to be lifted")
	}
}

func TestTimeoutExpiresAndPurgesOnRead(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	service, db := newTestService(t, clock)
	ctx := context.Background()

	if err := service.Timeout(ctx, "alpha", now.Add(10*time.Minute), "spam"); err != nil {
		t.Fatalf("timeout failed: %v", err)
	}
	active, expiry, err := service.IsTimedOut(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !active || !expiry.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("expected active timeout until %v, got %v/%v", now.Add(10*time.Minute), active, expiry)
	}

	// Re-issuing a timeout replaces the expiry.
	if err := service.Timeout(ctx, "alpha", now.Add(time.Hour), "worse spam"); err != nil {
		t.Fatalf("second timeout failed: %v", err)
	}
	_, expiry, err = service.IsTimedOut(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected replaced expiry, got %v", expiry)
	}

	now = now.Add(2 * time.Hour)
	active, _, err = service.IsTimedOut(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if active {
		t.Fatalf("expected timeout to lapse")
	}

	var count int64
	if err := db.Model(&TimeoutRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired row purged on read, %d remain", count)
	}
}

func TestPurgeExpiredTimeouts(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	service, db := newTestService(t, func() time.Time { return now })
	ctx := context.Background()

	if err := service.Timeout(ctx, "expired", now.Add(-time.Minute), ""); err != nil {
		t.Fatalf("timeout failed: %v", err)
	}
	if err := service.Timeout(ctx, "active", now.Add(time.Minute), ""); err != nil {
		t.Fatalf("timeout failed: %v", err)
	}

	if err := service.PurgeExpiredTimeouts(ctx); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	var remaining []TimeoutRecord
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].UserID != "active" {
		t.Fatalf("expected only the active row to survive, got %v", remaining)
	}
}

func TestClearTimeout(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func() time.Time { return now })
	ctx := context.Background()

	if err := service.Timeout(ctx, "alpha", now.Add(time.Hour), ""); err != nil {
		t.Fatalf("timeout failed: %v", err)
	}
	if err := service.ClearTimeout(ctx, "alpha"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	active, _, err := service.IsTimedOut(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if active {
		t.Fatalf("expected cleared timeout")
	}
}

func TestBlockPairIsOrderIndependent(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if err := service.Block(ctx, "bravo", "alpha"); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	// Blocking again, from either side, is a no-op.
	if err := service.Block(ctx, "alpha", "bravo"); err != nil {
		t.Fatalf("repeated block failed: %v", err)
	}

	for _, pair := range [][2]string{{"alpha", "bravo"}, {"bravo", "alpha"}} {
		blocked, err := service.AreBlocked(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("unexpected lookup error: %v", err)
		}
		if !blocked {
			t.Fatalf("expected %v to read as blocked", pair)
		}
	}

	if err := service.Unblock(ctx, "alpha", "bravo"); err != nil {
		t.Fatalf("unblock failed: %v", err)
	}
	blocked, err := service.AreBlocked(ctx, "bravo", "alpha")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if blocked {
		t.Fatalf("expected block removed")
	}
}

func TestPinnedSetTracksChannel(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func() time.Time { return now })
	ctx := context.Background()

	if err := service.SetPinned(ctx, "msg-1", "global", "mod-1"); err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if err := service.SetPinned(ctx, "msg-2", "global", "mod-1"); err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if err := service.SetPinned(ctx, "msg-3", "dm", "mod-1"); err != nil {
		t.Fatalf("pin failed: %v", err)
	}

	pinned, err := service.PinnedSet(ctx, "global")
	if err != nil {
		t.Fatalf("pinned set failed: %v", err)
	}
	if len(pinned) != 2 {
		t.Fatalf("expected 2 global pins, got %d", len(pinned))
	}
	if record, ok := pinned["msg-1"]; !ok || record.PinnedBy != "mod-1" {
		t.Fatalf("unexpected pin record %+v", record)
	}

	if err := service.ClearPinned(ctx, "msg-1"); err != nil {
		t.Fatalf("unpin failed: %v", err)
	}
	if err := service.ClearPinned(ctx, "msg-1"); err != nil {
		t.Fatalf("repeated unpin failed: %v", err)
	}
	pinned, err = service.PinnedSet(ctx, "global")
	if err != nil {
		t.Fatalf("pinned set failed: %v", err)
	}
	if _, ok := pinned["msg-1"]; ok {
		t.Fatalf("expected msg-1 unpinned")
	}
}

func TestChannelEnabledDefaultsOn(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	enabled, err := service.ChannelEnabled(ctx, "global")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !enabled {
		t.Fatalf("channels without a flag row are enabled")
	}

	if err := service.SetChannelEnabled(ctx, "global", false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	enabled, err = service.ChannelEnabled(ctx, "global")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if enabled {
		t.Fatalf("expected global channel disabled")
	}

	if err := service.SetChannelEnabled(ctx, "global", true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	enabled, err = service.ChannelEnabled(ctx, "global")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !enabled {
		t.Fatalf("expected global channel re-enabled")
	}
}

func TestRemainingMinutesRoundsUp(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		expiry   time.Time
		expected int
	}{
		{name: "exact minutes", expiry: now.Add(5 * time.Minute), expected: 5},
		{name: "partial minute rounds up", expiry: now.Add(4*time.Minute + 30*time.Second), expected: 5},
		{name: "under a minute", expiry: now.Add(10 * time.Second), expected: 1},
		{name: "already expired", expiry: now.Add(-time.Second), expected: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := RemainingMinutes(now, test.expiry); got != test.expected {
				t.Fatalf("RemainingMinutes = %d, want %d", got, test.expected)
			}
		})
	}
}

func TestTimeoutMessage(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	message := TimeoutMessage(now, now.Add(90*time.Second))
	if message != "You are timed out for 2 more minute(s)" {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestPairKeySortsIdentities(t *testing.T) {
	if PairKey("bravo", "alpha") != PairKey("alpha", "bravo") {
		t.Fatalf("expected order-independent key")
	}
	if PairKey(" alpha ", "bravo") != "alpha_bravo" {
		t.Fatalf("expected trimmed, sorted key, got %q", PairKey(" alpha ", "bravo"))
	}
}
