package identity

import (
	"context"
	"time"
)

// Profile is the display identity attached to chat messages.
type Profile struct {
	DisplayName string
	AvatarURL   string
}

// Unknown is the sentinel returned for identities that cannot be
// resolved. Resolvers return it instead of erroring on unknown ids.
var Unknown = Profile{DisplayName: "Unknown User", AvatarURL: ""}

// IsUnknown reports whether the profile is the unresolved sentinel.
func (p Profile) IsUnknown() bool {
	return p.DisplayName == "" || p.DisplayName == Unknown.DisplayName
}

// Resolver looks up the current display identity for a user id.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Profile, error)
}

// PremiumChecker reports the expiry of a user's premium subscription.
// A nil expiry means the user never held one.
type PremiumChecker interface {
	PremiumUntil(ctx context.Context, userID string) (*time.Time, error)
}

// ResolveBounded resolves a profile with a hard deadline, falling back
// to the supplied profile when resolution is slow or fails. The send
// path must never block indefinitely on identity lookup.
func ResolveBounded(ctx context.Context, resolver Resolver, userID string, timeout time.Duration, fallback Profile) Profile {
	if resolver == nil {
		return withFallback(Unknown, fallback)
	}
	boundedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		profile Profile
		err     error
	}
	results := make(chan outcome, 1)
	go func() {
		profile, err := resolver.Resolve(boundedCtx, userID)
		results <- outcome{profile: profile, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			return withFallback(Unknown, fallback)
		}
		return withFallback(result.profile, fallback)
	case <-boundedCtx.Done():
		return withFallback(Unknown, fallback)
	}
}

// withFallback prefers live-resolved fields, falling back per field to
// the client-supplied snapshot.
func withFallback(resolved, fallback Profile) Profile {
	merged := resolved
	if merged.IsUnknown() && fallback.DisplayName != "" && fallback.DisplayName != Unknown.DisplayName {
		merged.DisplayName = fallback.DisplayName
	}
	if merged.DisplayName == "" {
		merged.DisplayName = Unknown.DisplayName
	}
	if merged.AvatarURL == "" {
		merged.AvatarURL = fallback.AvatarURL
	}
	return merged
}

// PremiumActive reports whether a premium expiry is in the future.
func PremiumActive(until *time.Time, now time.Time) bool {
	return until != nil && until.After(now)
}
