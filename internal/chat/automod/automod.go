package automod

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	maxAllowDomains = 200
	maxBannedWords  = 500
	maxBannedRegex  = 200
)

// Settings is the recognized-options automod configuration. Its content
// comes from an external source and is treated as opaque input to the
// gate: unknown fields are dropped during coercion.
type Settings struct {
	Enabled          bool     `json:"enabled"`
	BlockLinks       bool     `json:"blockLinks"`
	AllowLinkDomains []string `json:"allowLinkDomains"`
	BannedWords      []string `json:"bannedWords"`
	BannedRegex      []string `json:"bannedRegex"`
}

// DefaultSettings is the documented fallback used when the settings
// source is unavailable: the gate is off rather than failing open or
// closed unpredictably.
func DefaultSettings() Settings {
	return Settings{}
}

// Decision is the gate's verdict for a message body.
type Decision struct {
	Allowed bool
	Reason  string
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s]+|\bwww\.[^\s]+`)

// Coerce normalizes arbitrary settings input into bounded, cleaned
// Settings.
func Coerce(input Settings) Settings {
	cleaned := Settings{
		Enabled:    input.Enabled,
		BlockLinks: input.BlockLinks,
	}
	for _, domain := range input.AllowLinkDomains {
		normalized := normalizeDomain(domain)
		if normalized == "" {
			continue
		}
		cleaned.AllowLinkDomains = append(cleaned.AllowLinkDomains, normalized)
		if len(cleaned.AllowLinkDomains) == maxAllowDomains {
			break
		}
	}
	for _, word := range input.BannedWords {
		trimmed := strings.TrimSpace(word)
		if trimmed == "" {
			continue
		}
		cleaned.BannedWords = append(cleaned.BannedWords, trimmed)
		if len(cleaned.BannedWords) == maxBannedWords {
			break
		}
	}
	for _, pattern := range input.BannedRegex {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		cleaned.BannedRegex = append(cleaned.BannedRegex, trimmed)
		if len(cleaned.BannedRegex) == maxBannedRegex {
			break
		}
	}
	return cleaned
}

// Check evaluates a message body against the settings. The verdict is
// deterministic: the same body and settings always produce the same
// result, with no randomness or external calls.
func Check(body string, settings Settings) Decision {
	if !settings.Enabled {
		return Decision{Allowed: true}
	}

	if settings.BlockLinks {
		if verdict := checkLinks(body, settings.AllowLinkDomains); !verdict.Allowed {
			return verdict
		}
	}

	normalized := strings.ToLower(body)
	for _, word := range settings.BannedWords {
		banned := strings.ToLower(strings.TrimSpace(word))
		if banned == "" {
			continue
		}
		if strings.Contains(normalized, banned) {
			return Decision{Reason: "Message contains a banned word"}
		}
	}

	for _, pattern := range settings.BannedRegex {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		compiled, err := regexp.Compile("(?i)" + trimmed)
		if err != nil {
			// Invalid operator-supplied patterns are skipped, matching
			// the permissive handling the rest of the gate uses.
			continue
		}
		if compiled.MatchString(body) {
			return Decision{Reason: "Message matches a blocked pattern"}
		}
	}

	return Decision{Allowed: true}
}

func checkLinks(body string, allowDomains []string) Decision {
	matches := urlPattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return Decision{Allowed: true}
	}
	allowed := make(map[string]bool, len(allowDomains))
	for _, domain := range allowDomains {
		normalized := normalizeDomain(domain)
		if normalized != "" {
			allowed[normalized] = true
		}
	}
	for _, match := range matches {
		host := hostname(match)
		if host == "" {
			continue
		}
		if !allowed[host] {
			return Decision{Reason: "Links are not allowed"}
		}
	}
	return Decision{Allowed: true}
}

func normalizeDomain(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimPrefix(trimmed, "www.")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

func hostname(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	withScheme := trimmed
	if !strings.HasPrefix(withScheme, "http://") && !strings.HasPrefix(withScheme, "https://") {
		withScheme = "https://" + withScheme
	}
	parsed, err := url.Parse(withScheme)
	if err != nil || parsed.Hostname() == "" {
		bare := strings.TrimPrefix(strings.ToLower(trimmed), "www.")
		if idx := strings.IndexByte(bare, '/'); idx >= 0 {
			bare = bare[:idx]
		}
		return bare
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
