package auth

import "strings"

// ModeratorSet answers whether a user id holds moderator privileges.
// Membership comes from static configuration; there is no runtime
// promotion path.
type ModeratorSet struct {
	members map[string]bool
}

// NewModeratorSet builds the set from configured ids. Blank entries are
// dropped.
func NewModeratorSet(ids []string) *ModeratorSet {
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			members[trimmed] = true
		}
	}
	return &ModeratorSet{members: members}
}

// IsModerator reports whether the id is configured as a moderator.
func (s *ModeratorSet) IsModerator(userID string) bool {
	return s.members[userID]
}
