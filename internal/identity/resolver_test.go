package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticResolver struct {
	profile Profile
	err     error
	delay   time.Duration
}

func (r *staticResolver) Resolve(ctx context.Context, _ string) (Profile, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return Unknown, ctx.Err()
		}
	}
	return r.profile, r.err
}

func TestResolveBoundedReturnsLiveProfile(t *testing.T) {
	resolver := &staticResolver{profile: Profile{DisplayName: "Trader", AvatarURL: "https://a.example/t.png"}}
	profile := ResolveBounded(context.Background(), resolver, "user-1", time.Second, Profile{DisplayName: "Stale"})
	if profile.DisplayName != "Trader" {
		t.Fatalf("expected live name to win, got %q", profile.DisplayName)
	}
}

func TestResolveBoundedFallsBackOnTimeout(t *testing.T) {
	resolver := &staticResolver{
		profile: Profile{DisplayName: "Too Late"},
		delay:   time.Second,
	}
	fallback := Profile{DisplayName: "Snapshot", AvatarURL: "https://a.example/s.png"}
	profile := ResolveBounded(context.Background(), resolver, "user-1", 10*time.Millisecond, fallback)
	if profile.DisplayName != "Snapshot" || profile.AvatarURL != fallback.AvatarURL {
		t.Fatalf("expected fallback snapshot, got %+v", profile)
	}
}

func TestResolveBoundedFallsBackOnError(t *testing.T) {
	resolver := &staticResolver{err: errors.New("directory down")}
	profile := ResolveBounded(context.Background(), resolver, "user-1", time.Second, Profile{DisplayName: "Snapshot"})
	if profile.DisplayName != "Snapshot" {
		t.Fatalf("expected fallback on resolver error, got %+v", profile)
	}
}

func TestResolveBoundedNilResolverUsesFallback(t *testing.T) {
	profile := ResolveBounded(context.Background(), nil, "user-1", time.Second, Profile{})
	if profile.DisplayName != Unknown.DisplayName {
		t.Fatalf("expected unknown sentinel, got %+v", profile)
	}
}

func TestWithFallbackMergesPerField(t *testing.T) {
	merged := withFallback(
		Profile{DisplayName: "Live Name"},
		Profile{DisplayName: "Stale Name", AvatarURL: "https://a.example/s.png"},
	)
	if merged.DisplayName != "Live Name" {
		t.Fatalf("live name must win, got %q", merged.DisplayName)
	}
	if merged.AvatarURL != "https://a.example/s.png" {
		t.Fatalf("missing avatar falls back, got %q", merged.AvatarURL)
	}
}

func TestPremiumActive(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if !PremiumActive(&future, now) {
		t.Fatalf("future expiry is active")
	}
	if PremiumActive(&past, now) {
		t.Fatalf("past expiry is not active")
	}
	if PremiumActive(nil, now) {
		t.Fatalf("absent grant is not active")
	}
}
