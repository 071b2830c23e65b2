package automod

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("event-%04d", s.next), nil
}

func newEventDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:automod_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Event{}, &SettingsRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestRecorderAppendAndRecent(t *testing.T) {
	db := newEventDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for index := 0; index < 3; index++ {
		event := Event{
			Channel:    "global",
			SenderID:   "sender-1",
			Reason:     "Links are not allowed",
			Body:       fmt.Sprintf("body-%d", index),
			OccurredAt: base.Add(time.Duration(index) * time.Minute),
		}
		if err := recorder.Append(ctx, event); err != nil {
			t.Fatalf("append %d failed: %v", index, err)
		}
	}

	events, err := recorder.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected recent error: %v", err)
	}
	if len(events) != 2 || events[0].Body != "body-2" {
		t.Fatalf("expected newest first, got %v", events)
	}
}

func TestRecorderPrunesBeyondCap(t *testing.T) {
	db := newEventDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for index := 0; index < maxEventRows+5; index++ {
		event := Event{
			Channel:    "global",
			SenderID:   "sender-1",
			Reason:     "r",
			Body:       fmt.Sprintf("body-%03d", index),
			OccurredAt: base.Add(time.Duration(index) * time.Second),
		}
		if err := recorder.Append(ctx, event); err != nil {
			t.Fatalf("append %d failed: %v", index, err)
		}
	}

	var count int64
	if err := db.Model(&Event{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != maxEventRows {
		t.Fatalf("expected log capped at %d rows, got %d", maxEventRows, count)
	}

	var oldest Event
	if err := db.Order("occurred_at ASC").Take(&oldest).Error; err != nil {
		t.Fatalf("failed to load oldest: %v", err)
	}
	if oldest.Body != "body-005" {
		t.Fatalf("expected earliest rows pruned, oldest is %q", oldest.Body)
	}
}

func TestRecorderClipsOversizedFields(t *testing.T) {
	db := newEventDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	long := make([]byte, 1000)
	for index := range long {
		long[index] = 'x'
	}
	event := Event{Channel: "global", SenderID: "s", Reason: string(long), Body: string(long)}
	if err := recorder.Append(context.Background(), event); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	var stored Event
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if len(stored.Reason) != maxReasonLength || len(stored.Body) != maxRejectedLength {
		t.Fatalf("expected clipped fields, got %d/%d", len(stored.Reason), len(stored.Body))
	}
}

func TestStoredSourceMissingRowYieldsDefaults(t *testing.T) {
	db := newEventDatabase(t)
	source, err := NewStoredSource(db, 0, nil)
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}

	settings, err := source.Current(context.Background())
	if err != nil {
		t.Fatalf("missing row is not an error: %v", err)
	}
	if settings.Enabled {
		t.Fatalf("expected defaults with the gate off")
	}
}

func TestStoredSourceSaveAndReload(t *testing.T) {
	db := newEventDatabase(t)
	source, err := NewStoredSource(db, 0, nil)
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}
	ctx := context.Background()

	saved := Settings{Enabled: true, BlockLinks: true, BannedWords: []string{"scam"}}
	if err := source.Save(ctx, saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := source.Save(ctx, Settings{Enabled: true, BannedWords: []string{"scam", "rat"}}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	current, err := source.Current(ctx)
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if !current.Enabled || current.BlockLinks || len(current.BannedWords) != 2 {
		t.Fatalf("expected the latest settings, got %+v", current)
	}
}

func TestStoredSourceMalformedRowFallsBack(t *testing.T) {
	db := newEventDatabase(t)
	source, err := NewStoredSource(db, 0, nil)
	if err != nil {
		t.Fatalf("failed to build source: %v", err)
	}

	record := SettingsRecord{Name: settingsRowName, BodyJSON: "{not json"}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed malformed row: %v", err)
	}

	settings, err := source.Current(context.Background())
	if err == nil {
		t.Fatalf("expected malformed row to be reported")
	}
	if settings.Enabled {
		t.Fatalf("expected defaults on malformed row")
	}
}
