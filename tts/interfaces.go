// Package tts defines the speech engine contracts and the EngineManager that
// routes speak requests across the loaded engines.
package tts

import "context"

// DialogLine is the reserved line for NPC dialog. Speaking on it cancels
// whatever dialog is still pending.
const DialogLine = "&dialog"

// LocalPlayerLine is the line used for the local player's own chat.
const LocalPlayerLine = "&localplayer"

// Engine is a backend that turns a voice and text into audio.
type Engine interface {
	// Name identifies the engine in logs and events.
	Name() string

	// Start brings the engine up. Failures are *EngineError.
	Start(ctx context.Context) error

	// Stop releases all resources. It is safe to call more than once.
	Stop()

	// IsAlive reports whether the engine can currently generate audio.
	IsAlive() bool

	VoiceIDs() []VoiceID
	Voices() []Voice

	// Generate starts synthesis of text. Failures are *Rejection: Dead when
	// the engine is not alive and Reject when the voice is not served here.
	// line scopes the request for Silence.
	Generate(voiceID VoiceID, text string, line string) (*Stream, error)

	// Silence drops pending and in-flight requests whose line matches.
	Silence(match LineMatcher)

	// SilenceAll drops every pending and in-flight request.
	SilenceAll()
}

// GainFunc returns the gain to apply at the time audio is played.
type GainFunc func() float32

// ConstantGain returns a GainFunc that always returns g.
func ConstantGain(g float32) GainFunc {
	return func() float32 { return g }
}

// LineMatcher selects lines by name.
type LineMatcher func(line string) bool

// MatchLine matches exactly one line name.
func MatchLine(name string) LineMatcher {
	return func(line string) bool { return line == name }
}

// MatchAny matches every line.
func MatchAny(string) bool { return true }

// Not inverts m.
func (m LineMatcher) Not() LineMatcher {
	return func(line string) bool { return !m(line) }
}

// AudioEngine plays audio on named lines.
type AudioEngine interface {
	Play(line string, audio Audio, gain GainFunc)
	CloseLineConditional(match LineMatcher)
	CloseAll()
}

// VoiceRegistry tracks the voices that running engines can speak.
type VoiceRegistry interface {
	Register(voice Voice)
	Unregister(id VoiceID)
}

// ContentPolicy decides whether a chat message should be spoken.
type ContentPolicy interface {
	IsSpam(username, text string) bool
}

// EventSink receives status notifications.
type EventSink interface {
	Post(event Event)
}
