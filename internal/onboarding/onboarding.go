// Package onboarding tracks whether a user has finished the first-contact
// conversation. Until then every message is answered by the onboarding flow.
package onboarding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/expense-assistant/internal/logger"
)

// Gate decides whether a message may reach the expense flow. When done is
// false, reply is the onboarding answer to send instead.
type Gate interface {
	Check(ctx context.Context, user, text string) (reply string, done bool)
}

// Disabled lets every message through.
type Disabled struct{}

// Check implements Gate.
func (Disabled) Check(context.Context, string, string) (string, bool) { return "", true }

// Profile is what onboarding learns about a user.
type Profile struct {
	User        string    `json:"user"`
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

type state int

const (
	stateNew state = iota
	stateAskedName
	stateDone
)

// Replies sent during onboarding.
const (
	WelcomeText = "Olá! 👋 Sou seu assistente financeiro. Vou te ajudar a registrar e acompanhar seus gastos.\n\nComo posso te chamar?"
	AskNameText = "Me diga como posso te chamar para começarmos."
	doneFormat  = "Prazer, %s! 🎉\n\nAgora é só me contar seus gastos, por exemplo: \"Gastei 50 reais no almoço\".\nEnvie \"%s\" para ver o resumo do mês."
)

// Registry is an in-memory Gate that asks for the user's name once.
type Registry struct {
	reportKeyword string

	mu       sync.RWMutex
	states   map[string]state
	profiles map[string]Profile
	now      func() time.Time
}

// NewRegistry creates an empty registry. reportKeyword is mentioned in the
// final onboarding message.
func NewRegistry(reportKeyword string) *Registry {
	return &Registry{
		reportKeyword: reportKeyword,
		states:        make(map[string]state),
		profiles:      make(map[string]Profile),
		now:           time.Now,
	}
}

// Check implements Gate.
func (r *Registry) Check(ctx context.Context, user, text string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.states[user] {
	case stateDone:
		return "", true
	case stateNew:
		r.states[user] = stateAskedName
		log := logger.FromContext(ctx)
		log.Info().Str("user", user).Msg("Started onboarding")
		return WelcomeText, false
	default:
		name := cleanName(text)
		if name == "" {
			return AskNameText, false
		}
		r.states[user] = stateDone
		r.profiles[user] = Profile{User: user, Name: name, CompletedAt: r.now()}
		log := logger.FromContext(ctx)
		log.Info().Str("user", user).Msg("Completed onboarding")
		return fmt.Sprintf(doneFormat, name, r.reportKeyword), false
	}
}

// Complete marks a user as onboarded without the conversation.
func (r *Registry) Complete(user, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[user] = stateDone
	r.profiles[user] = Profile{User: user, Name: name, CompletedAt: r.now()}
}

// Profile returns what is known about user.
func (r *Registry) Profile(user string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[user]
	return p, ok
}

// cleanName keeps the first few words of a short free-text answer.
func cleanName(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 3 {
		words = words[:3]
	}
	name := strings.Join(words, " ")
	return strings.Trim(name, ".!,;:")
}
