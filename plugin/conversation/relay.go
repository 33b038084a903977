package conversation

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// relayBufferSize bounds the in-flight chunks between producer and
// consumer. The producer blocks once the consumer falls this far behind,
// unless the consumer has abandoned the relay.
const relayBufferSize = 64

const (
	referencesTrailerPrefix = "### compiled references:"
	onlineTrailerPrefix     = "### compiled online results:"
)

// StreamRelay carries incremental model output from a producing goroutine
// to a consuming one. It accumulates the full response text and invokes
// the completion callback exactly once when the producer closes the
// stream, before the consumer observes end-of-iteration.
//
// One producer, one consumer. Chunks arrive at the consumer in exact
// emission order, and the callback observes their exact concatenation.
type StreamRelay struct {
	ch        chan string
	abandoned chan struct{}

	closeOnce   sync.Once
	abandonOnce sync.Once

	references []ContextSnippet
	online     map[string]any
	onComplete func(fullResponse string)

	mu       sync.Mutex
	response strings.Builder

	started time.Time
}

// NewStreamRelay creates a relay for one streamed model response. The
// references and online results are emitted as serialized trailer chunks
// on close; onComplete, if non-nil, runs exactly once with the full
// accumulated response.
func NewStreamRelay(references []ContextSnippet, online map[string]any, onComplete func(string)) *StreamRelay {
	return &StreamRelay{
		ch:         make(chan string, relayBufferSize),
		abandoned:  make(chan struct{}),
		references: references,
		online:     online,
		onComplete: onComplete,
		started:    time.Now(),
	}
}

// Send appends chunk to the accumulated response and delivers it to the
// consumer. Chunks sent after the consumer abandoned the relay are still
// accumulated so the recorded turn stays complete.
func (r *StreamRelay) Send(chunk string) {
	r.mu.Lock()
	if r.response.Len() == 0 && chunk != "" {
		slog.Debug("first response chunk", "elapsed", time.Since(r.started))
	}
	r.response.WriteString(chunk)
	r.mu.Unlock()

	r.deliver(chunk)
}

func (r *StreamRelay) deliver(chunk string) {
	select {
	case r.ch <- chunk:
	case <-r.abandoned:
	}
}

// Close ends the stream. Only the first call has effect: it emits the
// context trailers, fires the completion callback with the accumulated
// response, and then releases the consumer. Short-circuit paths that
// never reach the model must still call Close so the turn gets recorded.
func (r *StreamRelay) Close() {
	r.closeOnce.Do(func() {
		if len(r.references) > 0 {
			if data, err := json.Marshal(r.references); err == nil {
				r.deliver(referencesTrailerPrefix + string(data))
			}
		}
		if len(r.online) > 0 {
			if data, err := json.Marshal(r.online); err == nil {
				r.deliver(onlineTrailerPrefix + string(data))
			}
		}

		slog.Info("chat streaming finished", "elapsed", time.Since(r.started))
		if r.onComplete != nil {
			r.onComplete(r.Response())
		}
		close(r.ch)
	})
}

// Chunks returns the consumer side of the relay. The channel yields
// chunks in emission order, then the trailers, and is closed after the
// completion callback has run.
func (r *StreamRelay) Chunks() <-chan string {
	return r.ch
}

// Abandon releases the producer when the consumer stops reading early,
// such as a client disconnect. The producer keeps running to completion
// and the completion callback still fires on Close, so the conversation
// log never silently loses a turn.
func (r *StreamRelay) Abandon() {
	r.abandonOnce.Do(func() {
		close(r.abandoned)
	})
}

// Response returns the text accumulated so far. After Close it is the
// full model response; during an aborted stream it reflects the partial
// output emitted before the failure.
func (r *StreamRelay) Response() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response.String()
}
