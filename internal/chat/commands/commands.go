package commands

import (
	"regexp"
	"strings"
)

const (
	maxSlugLength     = 32
	maxArgsLength     = 500
	maxResponseLength = 900
)

// PingSlug is reserved for the built-in ping directive and can never be
// registered as a template command.
const PingSlug = "ping"

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// NormalizeSlug cleans raw input into a registrable command slug, or
// empty when the input is not a valid slug.
func NormalizeSlug(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.TrimLeft(cleaned, "/")
	if len(cleaned) > maxSlugLength {
		cleaned = cleaned[:maxSlugLength]
	}
	if cleaned == "" || cleaned == PingSlug {
		return ""
	}
	if !slugPattern.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// Invocation is a parsed slash-command submission.
type Invocation struct {
	Slug string
	Args string
}

var invocationPattern = regexp.MustCompile(`^/(\S+)(?:\s+([\s\S]+))?$`)

// ParseInvocation recognizes a "/slug args" submission. Returns nil
// when the body is not a command invocation.
func ParseInvocation(body string) *Invocation {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "/") {
		return nil
	}
	match := invocationPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return nil
	}
	slug := NormalizeSlug(match[1])
	if slug == "" {
		return nil
	}
	args := strings.TrimSpace(match[2])
	if len(args) > maxArgsLength {
		args = args[:maxArgsLength]
	}
	return &Invocation{Slug: slug, Args: args}
}

// RenderVars are the substitution values available to templates.
type RenderVars struct {
	UserName string
	UserID   string
	Args     string
}

var (
	userPlaceholder   = regexp.MustCompile(`(?i)\{user\}`)
	userIDPlaceholder = regexp.MustCompile(`(?i)\{steamid\}`)
	argsPlaceholder   = regexp.MustCompile(`(?i)\{args\}`)
)

// Render expands a response template. Pure function of its inputs.
func Render(template string, vars RenderVars) string {
	out := strings.TrimSpace(template)
	out = userPlaceholder.ReplaceAllString(out, strings.TrimSpace(vars.UserName))
	out = userIDPlaceholder.ReplaceAllString(out, strings.TrimSpace(vars.UserID))
	out = argsPlaceholder.ReplaceAllString(out, strings.TrimSpace(vars.Args))
	out = strings.TrimSpace(out)
	if len(out) > maxResponseLength {
		out = out[:maxResponseLength]
	}
	return out
}

// Ping is a parsed ping directive.
type Ping struct {
	TargetID string
}

// ParsePing recognizes the "/ping <userID>" directive. Returns nil when
// the body is not a ping.
func ParsePing(body string) *Ping {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "/"+PingSlug) {
		return nil
	}
	rest := strings.TrimPrefix(trimmed, "/"+PingSlug)
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return nil
	}
	target := strings.TrimSpace(rest)
	if target == "" {
		return nil
	}
	fields := strings.Fields(target)
	return &Ping{TargetID: fields[0]}
}

// PingPlaceholder is the redacted body stored in place of the raw ping
// directive.
func PingPlaceholder(senderName, targetID string) string {
	name := strings.TrimSpace(senderName)
	if name == "" {
		name = "Someone"
	}
	return name + " pinged " + strings.TrimSpace(targetID)
}
