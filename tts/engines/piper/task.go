package piper

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/naturalspeech/naturalspeech/tts"
)

// Task is one text segment waiting for or undergoing synthesis. Tasks of
// one utterance form a chain through parent so their audio is delivered in
// text order.
type Task struct {
	ID      uuid.UUID
	VoiceID tts.VoiceID
	Text    string
	Line    string

	speakerID int
	parent    *Task
	last      bool
	req       *request

	skip atomic.Bool
	done chan struct{}
	once sync.Once
}

// Skip marks the task so its audio is discarded.
func (t *Task) Skip() {
	t.skip.Store(true)
}

// Skipped reports whether Skip was called.
func (t *Task) Skipped() bool {
	return t.skip.Load()
}

// ParentID returns the ID of the task delivered before this one, or uuid.Nil
// for the first segment of an utterance.
func (t *Task) ParentID() uuid.UUID {
	if t.parent == nil {
		return uuid.Nil
	}
	return t.parent.ID
}

// Done is closed once this task and every task before it in the chain has
// completed, been skipped or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// deliver hands audio to the request sink once the parent is done.
func (t *Task) deliver(audio tts.Audio) {
	if t.parent != nil {
		<-t.parent.done
	}
	if !t.Skipped() {
		t.req.sink(audio)
	}
	t.finish(nil)
}

// finish records the outcome. done closes only after the parent's, so a
// failed or skipped task never lets its children overtake earlier audio.
func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.req.record(err, t.Skipped())
		if t.parent == nil {
			t.close()
			return
		}
		select {
		case <-t.parent.done:
			t.close()
		default:
			go func() {
				<-t.parent.done
				t.close()
			}()
		}
	})
}

func (t *Task) close() {
	close(t.done)
	if t.last {
		t.req.complete()
	}
}

// request groups the tasks of one utterance.
type request struct {
	sink   func(tts.Audio)
	onDone func(err error)

	mu       sync.Mutex
	err      error
	canceled bool
	once     sync.Once
}

func (r *request) record(err error, skipped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil && r.err == nil {
		r.err = err
	}
	if skipped {
		r.canceled = true
	}
}

func (r *request) complete() {
	r.once.Do(func() {
		if r.onDone == nil {
			return
		}
		r.mu.Lock()
		err := r.err
		if err == nil && r.canceled {
			err = tts.ErrStreamCanceled
		}
		r.mu.Unlock()
		r.onDone(err)
	})
}

// newChain builds the linked tasks for segments.
func newChain(voiceID tts.VoiceID, speakerID int, line string, segments []string, req *request) []*Task {
	tasks := make([]*Task, len(segments))
	var parent *Task
	for i, s := range segments {
		t := &Task{
			ID:        uuid.New(),
			VoiceID:   voiceID,
			Text:      s,
			Line:      line,
			speakerID: speakerID,
			parent:    parent,
			last:      i == len(segments)-1,
			req:       req,
			done:      make(chan struct{}),
		}
		tasks[i] = t
		parent = t
	}
	return tasks
}
