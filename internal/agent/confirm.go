package agent

import (
	"regexp"
	"strings"

	"github.com/hlibko/vika-voice-agent/internal/llm"
)

// priceMention matches an amount in hryvnia, the marker of an order
// summary read aloud ("Разом 7400 грн").
var priceMention = regexp.MustCompile(`\d[\d\s]*(грн|гривень|uah)`)

// affirmatives are caller replies accepted as agreement to a summary.
var affirmatives = []string{
	"так",
	"да",
	"добре",
	"гаразд",
	"підтверджую",
	"оформля",
	"згоден",
	"згодна",
	"yes",
	"ok",
}

// ConfirmAnnounced reports whether the history contains an assistant
// message announcing a total price followed, in a later message, by an
// affirmative caller reply. confirm_order should never fire without
// this pattern present.
func ConfirmAnnounced(history []llm.Message) bool {
	announced := false
	for _, m := range history {
		switch m.Role {
		case llm.RoleAssistant:
			if priceMention.MatchString(strings.ToLower(m.Text())) {
				announced = true
			}
		case llm.RoleUser:
			if !announced || m.HasToolResults() {
				continue
			}
			if isAffirmative(m.Text()) {
				return true
			}
		}
	}
	return false
}

func isAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, a := range affirmatives {
		if strings.Contains(t, a) {
			return true
		}
	}
	return false
}
