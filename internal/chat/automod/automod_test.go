package automod

import (
	"fmt"
	"strings"
	"testing"
)

func TestCheckDisabledAllowsEverything(t *testing.T) {
	decision := Check("total scam http://bad.example", Settings{})
	if !decision.Allowed {
		t.Fatalf("expected disabled gate to allow, got %+v", decision)
	}
}

func TestCheckBannedWordIsCaseInsensitive(t *testing.T) {
	settings := Settings{Enabled: true, BannedWords: []string{"scam"}}

	decision := Check("totally legit SCAM offer", settings)
	if decision.Allowed {
		t.Fatalf("expected banned word rejection")
	}
	if decision.Reason != "Message contains a banned word" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}

	if clean := Check("honest trade", settings); !clean.Allowed {
		t.Fatalf("expected clean message to pass, got %+v", clean)
	}
}

func TestCheckBannedRegexSkipsInvalidPatterns(t *testing.T) {
	settings := Settings{
		Enabled:     true,
		BannedRegex: []string{"(unclosed", `fr[e3]{2}\s+skins`},
	}

	decision := Check("FREE skins here", settings)
	if decision.Allowed {
		t.Fatalf("expected regex rejection")
	}
	if decision.Reason != "Message matches a blocked pattern" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}
}

func TestCheckLinksHonorAllowList(t *testing.T) {
	settings := Settings{
		Enabled:          true,
		BlockLinks:       true,
		AllowLinkDomains: []string{"steamcommunity.com"},
	}

	if decision := Check("see https://steamcommunity.com/id/someone", settings); !decision.Allowed {
		t.Fatalf("expected allow-listed domain to pass, got %+v", decision)
	}
	if decision := Check("visit www.steamcommunity.com/market today", settings); !decision.Allowed {
		t.Fatalf("expected www-prefixed allow-listed domain to pass, got %+v", decision)
	}

	decision := Check("buy at https://phishy.example/login", settings)
	if decision.Allowed || decision.Reason != "Links are not allowed" {
		t.Fatalf("expected link rejection, got %+v", decision)
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	settings := Settings{Enabled: true, BannedWords: []string{"bot"}}
	body := "this Bot keeps spamming"

	first := Check(body, settings)
	for run := 0; run < 5; run++ {
		if Check(body, settings) != first {
			t.Fatalf("expected identical verdicts across runs")
		}
	}
}

func TestCoerceAppliesCaps(t *testing.T) {
	input := Settings{Enabled: true, BlockLinks: true}
	for index := 0; index < maxAllowDomains+50; index++ {
		input.AllowLinkDomains = append(input.AllowLinkDomains, fmt.Sprintf("domain-%d.example", index))
	}
	for index := 0; index < maxBannedWords+50; index++ {
		input.BannedWords = append(input.BannedWords, fmt.Sprintf("word-%d", index))
	}
	for index := 0; index < maxBannedRegex+50; index++ {
		input.BannedRegex = append(input.BannedRegex, fmt.Sprintf("pattern-%d", index))
	}

	cleaned := Coerce(input)
	if len(cleaned.AllowLinkDomains) != maxAllowDomains {
		t.Fatalf("expected %d domains, got %d", maxAllowDomains, len(cleaned.AllowLinkDomains))
	}
	if len(cleaned.BannedWords) != maxBannedWords {
		t.Fatalf("expected %d words, got %d", maxBannedWords, len(cleaned.BannedWords))
	}
	if len(cleaned.BannedRegex) != maxBannedRegex {
		t.Fatalf("expected %d patterns, got %d", maxBannedRegex, len(cleaned.BannedRegex))
	}
}

func TestCoerceNormalizesDomainsAndDropsBlanks(t *testing.T) {
	cleaned := Coerce(Settings{
		AllowLinkDomains: []string{" HTTPS://WWW.Example.com/path ", "", "plain.example"},
		BannedWords:      []string{"  ", "scam  "},
	})
	if len(cleaned.AllowLinkDomains) != 2 || cleaned.AllowLinkDomains[0] != "example.com" {
		t.Fatalf("unexpected domains %v", cleaned.AllowLinkDomains)
	}
	if len(cleaned.BannedWords) != 1 || cleaned.BannedWords[0] != "scam" {
		t.Fatalf("unexpected words %v", cleaned.BannedWords)
	}
}

func TestHostnameFallsBackOnUnparsableInput(t *testing.T) {
	if got := hostname("www.weird.example/path"); got != "weird.example" {
		t.Fatalf("unexpected hostname %q", got)
	}
	if got := hostname(strings.Repeat(" ", 3)); got != "" {
		t.Fatalf("expected empty hostname for blank input, got %q", got)
	}
}
