// Package dialog implements the conversation dialogue manager for tutorbot:
// intent classification, the per-state transition table, the per-phone
// conversation store, the admin chat bridge, and the idle-session reaper.
package dialog

import (
	"strings"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// intentRule binds one intent to its keyword set. Matching is substring
// based over trimmed, lower-cased input.
type intentRule struct {
	intent   models.Intent
	keywords []string
}

// intentRules is evaluated strictly in order; the first matching rule
// wins. Ordering is load-bearing: when two intents' keyword sets overlap,
// the more specific/terminal intent must come first. In particular
// IntentEndChat precedes IntentSupport, because "end chat" contains the
// substring "chat" and would otherwise match the support keywords.
var intentRules = []intentRule{
	{models.IntentEndChat, []string{"end chat", "stop chat", "close chat", "leave chat", "bye admin"}},
	{models.IntentCancel, []string{"cancel", "abort", "never mind", "nevermind"}},
	{models.IntentMainMenu, []string{"main menu", "menu", "home", "hello", "hi"}},
	{models.IntentRegister, []string{"register", "sign up", "signup", "enroll", "join"}},
	{models.IntentHomework, []string{"homework", "assignment", "submit work", "exercise"}},
	{models.IntentPay, []string{"payment", "pay", "subscribe", "subscription", "fee"}},
	{models.IntentFaq, []string{"faq", "question", "how does", "price", "schedule", "info"}},
	{models.IntentSupport, []string{"chat", "support", "help me", "agent", "human", "talk to someone"}},
}

// Classify maps raw message text to one intent. Input is normalized
// (trimmed, lower-cased) before matching; callers may pass raw text.
// No match returns IntentNone.
func Classify(text string) models.Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return models.IntentNone
	}
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.intent
			}
		}
	}
	return models.IntentNone
}

// KeywordFor returns a canonical keyword producing the given intent,
// used to resolve numbered button replies back into classifiable text.
func KeywordFor(intent models.Intent) string {
	for _, rule := range intentRules {
		if rule.intent == intent && len(rule.keywords) > 0 {
			return rule.keywords[0]
		}
	}
	return ""
}
