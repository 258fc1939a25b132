package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/docpilot/llm"
)

const (
	// flushInterval coalesces fragments before delivery to the caller.
	flushInterval = 50 * time.Millisecond
	retryBackoff  = 200 * time.Millisecond
)

// Streamer issues streaming chat requests. At most one session is active;
// starting a new one cancels the previous session before its replacement
// begins, so no two sessions ever deliver to their callers concurrently.
type Streamer struct {
	llm        llm.StreamClient
	opts       llm.Options
	maxHistory int
	logger     *log.Logger

	mu      sync.Mutex
	current *Session
}

func NewStreamer(client llm.StreamClient, opts llm.Options, maxHistory int, logger *log.Logger) *Streamer {
	if logger == nil {
		logger = log.Default()
	}
	return &Streamer{
		llm:        client,
		opts:       opts,
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// Send starts a streaming request over the trailing history window and
// returns the in-flight session. Any prior session is cancelled first.
func (s *Streamer) Send(ctx context.Context, history []Message, cb Callbacks) *Session {
	messages := promptMessages(history, s.maxHistory)

	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
	}

	sessCtx, stop := context.WithCancel(ctx)
	sess := &Session{
		id:        uuid.New(),
		stop:      stop,
		callbacks: cb,
		done:      make(chan struct{}),
	}
	s.current = sess
	s.mu.Unlock()

	go s.run(sessCtx, sess, messages)
	return sess
}

// Stop cancels the active session, if any. Buffered-but-unflushed content is
// discarded and no callbacks fire.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel()
		s.current = nil
	}
}

func (s *Streamer) run(ctx context.Context, sess *Session, messages []llm.Message) {
	defer sess.stop()

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.done:
				return
			case <-ticker.C:
				sess.flush()
			}
		}
	}()

	var err error
	for attempt := 0; ; attempt++ {
		err = s.llm.GenerateStream(ctx, messages, s.opts, sess.append)
		if err == nil || attempt > 0 || !llm.IsTimeout(err) {
			break
		}
		// Timeouts get exactly one retry after a fixed backoff. The retry
		// only happens while nothing has been delivered yet: a second
		// attempt restreams the answer from the start, so once the caller
		// has seen fragments the timeout is surfaced instead.
		if !sess.resetForRetry() {
			break
		}
		s.logger.Printf("chat stream: timeout, retrying once: %v", err)
		if backoffErr := llm.Backoff(ctx, retryBackoff); backoffErr != nil {
			err = backoffErr
			break
		}
	}

	sess.finalize(err)
	<-flusherDone
}

// Session is one in-flight streaming request.
type Session struct {
	id   uuid.UUID
	stop context.CancelFunc
	done chan struct{}

	mu        sync.Mutex
	pending   strings.Builder
	full      strings.Builder
	fragments int
	delivered bool
	callbacks Callbacks
	finished  bool
}

func (s *Session) ID() uuid.UUID { return s.id }

// Wait blocks until the session finishes or is cancelled.
func (s *Session) Wait() {
	<-s.done
}

// Fragments reports how many content fragments the stream produced.
func (s *Session) Fragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fragments
}

// Text returns everything accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full.String()
}

func (s *Session) append(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return context.Canceled
	}
	s.pending.WriteString(fragment)
	s.full.WriteString(fragment)
	s.fragments++
	return nil
}

// flush hands the coalesced pending text to the caller.
func (s *Session) flush() {
	s.mu.Lock()
	if s.finished || s.pending.Len() == 0 {
		s.mu.Unlock()
		return
	}
	text := s.pending.String()
	s.pending.Reset()
	s.delivered = true
	onChunk := s.callbacks.OnChunk
	s.mu.Unlock()

	if onChunk != nil {
		onChunk(text)
	}
}

// resetForRetry drops everything buffered by an aborted attempt so a retry
// starts clean. It reports false when fragments were already delivered to the
// caller; the caller must then give up rather than duplicate them.
func (s *Session) resetForRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered {
		return false
	}
	s.pending.Reset()
	s.full.Reset()
	s.fragments = 0
	return true
}

// finalize closes the session exactly once: a last flush, then the terminal
// callback, then all callbacks are cleared. A second call is a no-op.
func (s *Session) finalize(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true

	remainder := s.pending.String()
	s.pending.Reset()
	full := s.full.String()
	cb := s.callbacks
	s.callbacks = Callbacks{}
	s.mu.Unlock()

	// done closes only after the terminal callback so waiters observe it.
	defer close(s.done)

	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if remainder != "" && cb.OnChunk != nil {
		cb.OnChunk(remainder)
	}
	if cb.OnComplete != nil {
		cb.OnComplete(full)
	}
}

// cancel terminates the session without invoking completion or error
// handlers. Unflushed content is discarded.
func (s *Session) cancel() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		s.stop()
		return
	}
	s.finished = true
	s.pending.Reset()
	s.callbacks = Callbacks{}
	s.mu.Unlock()

	close(s.done)
	s.stop()
}
