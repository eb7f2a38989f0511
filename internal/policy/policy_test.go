package policy

import (
	"testing"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func testPolicy(c *clock, cfg tts.PolicyConfig) *Spam {
	s := New(cfg)
	s.now = c.now
	return s
}

var defaultPolicy = tts.PolicyConfig{
	Enabled:           true,
	MessagesPerMinute: 6,
	Burst:             2,
	RepeatWindow:      10 * time.Second,
}

func TestSpamRateLimit(t *testing.T) {
	c := newClock()
	s := testPolicy(c, defaultPolicy)

	steps := []struct {
		name    string
		advance time.Duration
		user    string
		text    string
		want    bool
	}{
		{"first", 0, "bob", "one", false},
		{"burst", 0, "bob", "two", false},
		{"over burst", 0, "bob", "three", true},
		{"other user has own bucket", 0, "alice", "hello", false},
		{"username is case insensitive", 0, "BOB", "four", true},
		{"refilled after 10s", 10 * time.Second, "bob", "five", false},
		{"empty bucket again", 0, "bob", "six", true},
	}
	for _, st := range steps {
		c.advance(st.advance)
		if got := s.IsSpam(st.user, st.text); got != st.want {
			t.Errorf("%s: IsSpam(%q, %q) = %v, want %v", st.name, st.user, st.text, got, st.want)
		}
	}
}

func TestSpamRepeats(t *testing.T) {
	c := newClock()
	cfg := defaultPolicy
	cfg.MessagesPerMinute = 600
	cfg.Burst = 100
	s := testPolicy(c, cfg)

	steps := []struct {
		advance time.Duration
		text    string
		want    bool
	}{
		{0, "Buy gold now", false},
		{time.Second, "buy  GOLD now", true},
		// each repeat extends the window
		{9 * time.Second, "buy gold now", true},
		{9 * time.Second, "buy gold now", true},
		{11 * time.Second, "buy gold now", false},
		{0, "something else", false},
		{0, "buy gold now", false},
	}
	for i, st := range steps {
		c.advance(st.advance)
		if got := s.IsSpam("spammer", st.text); got != st.want {
			t.Errorf("step %d: IsSpam(%q) = %v, want %v", i, st.text, got, st.want)
		}
	}
}

func TestSpamDisabled(t *testing.T) {
	s := New(tts.PolicyConfig{})
	for i := 0; i < 100; i++ {
		if s.IsSpam("bob", "same") {
			t.Fatal("disabled policy reported spam")
		}
	}
	if s.Users() != 0 {
		t.Errorf("disabled policy tracked %d users", s.Users())
	}
}

func TestSpamForgetsIdleUsers(t *testing.T) {
	c := newClock()
	cfg := defaultPolicy
	cfg.MessagesPerMinute = 6000
	cfg.Burst = 1000
	s := testPolicy(c, cfg)

	s.IsSpam("idle", "hi")
	c.advance(forgetAfter + time.Minute)
	for i := 0; i < 99; i++ {
		s.IsSpam("busy", string(rune('a'+i%26))+" msg")
	}
	if s.Users() != 1 {
		t.Errorf("Users() = %d, want 1", s.Users())
	}

	s.Reset()
	if s.Users() != 0 {
		t.Errorf("Users() = %d after Reset", s.Users())
	}
	if s.IsSpam("", "   ") {
		t.Error("blank message reported as spam")
	}
}
