// Package voices keeps track of the voices running engines can speak.
package voices

import (
	"hash/fnv"
	"slices"
	"sync"

	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/sahilm/fuzzy"
)

// Registry holds the active voices in registration order. Blacklisted voices
// stay registered but are never offered.
type Registry struct {
	mu        sync.RWMutex
	active    map[tts.VoiceID]tts.Voice
	order     []tts.VoiceID
	blacklist map[tts.VoiceID]struct{}
}

// NewRegistry creates a registry that hides the blacklisted voices.
func NewRegistry(blacklist ...tts.VoiceID) *Registry {
	r := &Registry{
		active:    make(map[tts.VoiceID]tts.Voice),
		blacklist: make(map[tts.VoiceID]struct{}),
	}
	for _, id := range blacklist {
		r.blacklist[id] = struct{}{}
	}
	return r
}

// Register implements tts.VoiceRegistry.
func (r *Registry) Register(v tts.Voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[v.ID]; !ok {
		r.order = append(r.order, v.ID)
	}
	r.active[v.ID] = v
}

// Unregister implements tts.VoiceRegistry.
func (r *Registry) Unregister(id tts.VoiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return
	}
	delete(r.active, id)
	r.order = slices.DeleteFunc(r.order, func(o tts.VoiceID) bool { return o == id })
}

// Get returns an active voice, blacklisted or not.
func (r *Registry) Get(id tts.VoiceID) (tts.Voice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.active[id]
	return v, ok
}

// IsActive reports whether id is registered and not blacklisted.
func (r *Registry) IsActive(id tts.VoiceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[id]
	_, banned := r.blacklist[id]
	return ok && !banned
}

// Voices returns the offered voices in registration order.
func (r *Registry) Voices() []tts.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.voicesLocked(func(tts.Voice) bool { return true })
}

func (r *Registry) voicesLocked(keep func(tts.Voice) bool) []tts.Voice {
	out := make([]tts.Voice, 0, len(r.order))
	for _, id := range r.order {
		if _, banned := r.blacklist[id]; banned {
			continue
		}
		if v := r.active[id]; keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// ByGender returns the offered voices of gender g.
func (r *Registry) ByGender(g tts.Gender) []tts.Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.voicesLocked(func(v tts.Voice) bool { return v.Gender == g })
}

// Gender returns the gender of id, GenderOther when it is unknown.
func (r *Registry) Gender(id tts.VoiceID) tts.Gender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.active[id]; ok && v.Gender != "" {
		return v.Gender
	}
	return tts.GenderOther
}

// Pick chooses a voice of gender g for a speaker. The same speaker gets the
// same voice as long as the set of voices does not change. When no voice of
// g is offered any voice is used.
func (r *Registry) Pick(g tts.Gender, speaker string) (tts.Voice, bool) {
	candidates := r.ByGender(g)
	if len(candidates) == 0 {
		candidates = r.Voices()
	}
	if len(candidates) == 0 {
		return tts.Voice{}, false
	}
	h := fnv.New32a()
	h.Write([]byte(speaker))
	return candidates[h.Sum32()%uint32(len(candidates))], true
}

// Blacklist hides id.
func (r *Registry) Blacklist(id tts.VoiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[id] = struct{}{}
}

// Unblacklist offers id again.
func (r *Registry) Unblacklist(id tts.VoiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blacklist, id)
}

// SetBlacklist replaces the blacklist.
func (r *Registry) SetBlacklist(ids []tts.VoiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist = make(map[tts.VoiceID]struct{}, len(ids))
	for _, id := range ids {
		r.blacklist[id] = struct{}{}
	}
}

// IsBlacklisted reports whether id is hidden.
func (r *Registry) IsBlacklisted(id tts.VoiceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklist[id]
	return ok
}

// Search returns the offered voices fuzzily matching query, best first.
func (r *Registry) Search(query string) []tts.Voice {
	return Search(r.Voices(), query)
}

type voiceSource []tts.Voice

func (s voiceSource) String(i int) string { return s[i].ID.String() + " " + s[i].Name }
func (s voiceSource) Len() int            { return len(s) }

// Search returns the voices fuzzily matching query on id and name, best
// match first. An empty query returns every voice.
func Search(voices []tts.Voice, query string) []tts.Voice {
	if query == "" {
		return slices.Clone(voices)
	}
	matches := fuzzy.FindFrom(query, voiceSource(voices))
	out := make([]tts.Voice, len(matches))
	for i, m := range matches {
		out[i] = voices[m.Index]
	}
	return out
}
