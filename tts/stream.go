package tts

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamCanceled is reported by a Stream that was canceled before it
// finished.
var ErrStreamCanceled = errors.New("stream canceled")

// Stream delivers the audio segments of one utterance in text order. The
// producer calls Push for every segment followed by exactly one Finish.
type Stream struct {
	segments chan Audio
	done     chan struct{}
	cancel   chan struct{}

	cancelOnce sync.Once

	mu       sync.Mutex
	finished bool
	canceled bool
	err      error
	onCancel []func()
}

// NewStream creates a stream able to buffer size segments without a reader.
func NewStream(size int) *Stream {
	if size < 1 {
		size = 1
	}
	return &Stream{
		segments: make(chan Audio, size),
		done:     make(chan struct{}),
		cancel:   make(chan struct{}),
	}
}

// Push hands the next segment to the consumer. It reports false when the
// stream is already finished or canceled and the segment was dropped.
func (s *Stream) Push(ctx context.Context, a Audio) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.canceled {
		return false
	}
	select {
	case s.segments <- a:
		return true
	case <-s.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish closes the stream. A nil err marks a complete utterance. Only the
// first call has an effect.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(err)
}

func (s *Stream) finishLocked(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.segments)
	close(s.done)
}

// Cancel abandons the stream. Buffered segments are discarded and callbacks
// registered with OnCancel run once.
func (s *Stream) Cancel() {
	// unblocks a Push waiting on a full buffer
	s.cancelOnce.Do(func() { close(s.cancel) })

	s.mu.Lock()
	if s.canceled || s.finished {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	hooks := s.onCancel
	s.onCancel = nil
	for {
		select {
		case <-s.segments:
			continue
		default:
		}
		break
	}
	s.finishLocked(ErrStreamCanceled)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnCancel registers fn to run when the stream is canceled.
func (s *Stream) OnCancel(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		go fn()
		return
	}
	s.onCancel = append(s.onCancel, fn)
}

// Canceled reports whether Cancel was called before the stream finished.
func (s *Stream) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Segments returns the channel of segments. It is closed when the stream
// finishes.
func (s *Stream) Segments() <-chan Audio {
	return s.segments
}

// Done is closed when the stream finishes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the stream finished with.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait reads every segment and returns them joined.
func (s *Stream) Wait(ctx context.Context) (Audio, error) {
	var parts []Audio
	for {
		select {
		case a, ok := <-s.segments:
			if !ok {
				if err := s.Err(); err != nil {
					return Audio{}, err
				}
				return Join(parts...)
			}
			parts = append(parts, a)
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
}

// Listen calls fn for every segment in order on a new goroutine and then
// onDone with the stream error.
func (s *Stream) Listen(fn func(Audio), onDone func(error)) {
	go func() {
		for a := range s.segments {
			fn(a)
		}
		if onDone != nil {
			onDone(s.Err())
		}
	}()
}
