// Package gating decides whether the bot should answer a free-form message
// at all. It is tuned for restraint: in group chats the bot stays quiet unless
// it is addressed or already part of the thread.
package gating

import (
	"strings"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

// DefaultSilenceProbability is the chance of staying quiet in a thread the bot
// has not joined yet.
const DefaultSilenceProbability = 0.95

// Reason explains a Decision.
type Reason string

const (
	ReasonRespond      Reason = "respond"
	ReasonSingleWord   Reason = "single_word"
	ReasonSilenced     Reason = "silenced"
	ReasonNotMentioned Reason = "not_mentioned"
)

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Respond bool
	Reason  Reason
}

// RandomSource yields floats in [0, 1). *rand.Rand from math/rand/v2
// satisfies it.
type RandomSource interface {
	Float64() float64
}

// Policy holds the gating parameters.
type Policy struct {
	// Mention is the token that addresses the bot, e.g. "@relay_bot".
	Mention            string
	SilenceProbability float64
	Rand               RandomSource
}

// New returns a Policy with the default silence probability.
func New(mention string, rnd RandomSource) *Policy {
	return &Policy{
		Mention:            mention,
		SilenceProbability: DefaultSilenceProbability,
		Rand:               rnd,
	}
}

// Decide applies the rules in order: single-word suppression, random silence
// in threads without a bot turn, then the mention requirement for fresh group
// messages. Group chats have negative ids.
func (p *Policy) Decide(chatID int64, text string, transcript []llm.Message) Decision {
	words := strings.Fields(text)
	if len(words) <= 1 {
		return Decision{Reason: ReasonSingleWord}
	}

	if !llm.HasRole(transcript, llm.RoleAssistant) && len(transcript) > 1 {
		if p.Rand.Float64() < p.SilenceProbability {
			return Decision{Reason: ReasonSilenced}
		}
	}

	if len(transcript) == 1 && chatID < 0 && !p.mentioned(words) {
		return Decision{Reason: ReasonNotMentioned}
	}

	return Decision{Respond: true, Reason: ReasonRespond}
}

func (p *Policy) mentioned(words []string) bool {
	if p.Mention == "" {
		return false
	}
	for _, w := range words {
		if strings.TrimRight(w, ".,!?:;") == p.Mention {
			return true
		}
	}
	return false
}
