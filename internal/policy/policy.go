// Package policy filters chat spam before it reaches speech synthesis.
package policy

import (
	"strings"
	"sync"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
	"golang.org/x/time/rate"
)

// idle users are forgotten after this long
const forgetAfter = 10 * time.Minute

// Spam limits every user to a token bucket of messages and drops a message
// identical to the user's previous one within the repeat window.
type Spam struct {
	cfg tts.PolicyConfig
	now func() time.Time

	mu    sync.Mutex
	users map[string]*user
	calls int
}

type user struct {
	limiter  *rate.Limiter
	lastText string
	lastAt   time.Time
	seen     time.Time
}

// New creates a spam policy from cfg.
func New(cfg tts.PolicyConfig) *Spam {
	return &Spam{
		cfg:   cfg,
		now:   time.Now,
		users: make(map[string]*user),
	}
}

// IsSpam implements tts.ContentPolicy.
func (s *Spam) IsSpam(username, text string) bool {
	if !s.cfg.Enabled {
		return false
	}
	msg := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if msg == "" {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.calls++
	if s.calls%100 == 0 {
		s.forgetLocked(now)
	}

	u, ok := s.users[key]
	if !ok {
		u = &user{limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerMinute/60), s.cfg.Burst)}
		s.users[key] = u
	}
	u.seen = now

	if msg == u.lastText && now.Sub(u.lastAt) < s.cfg.RepeatWindow {
		u.lastAt = now
		return true
	}
	if !u.limiter.AllowN(now, 1) {
		return true
	}
	u.lastText, u.lastAt = msg, now
	return false
}

func (s *Spam) forgetLocked(now time.Time) {
	for name, u := range s.users {
		if now.Sub(u.seen) > forgetAfter {
			delete(s.users, name)
		}
	}
}

// Users returns how many users are tracked.
func (s *Spam) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Reset forgets every user.
func (s *Spam) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*user)
}
