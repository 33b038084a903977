package conversation

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRelay(t *testing.T) {
	t.Run("Chunks arrive in emission order", func(t *testing.T) {
		relay := NewStreamRelay(nil, nil, nil)

		go func() {
			relay.Send("The ")
			relay.Send("capital ")
			relay.Send("is Paris.")
			relay.Close()
		}()

		var received []string
		for chunk := range relay.Chunks() {
			received = append(received, chunk)
		}
		assert.Equal(t, []string{"The ", "capital ", "is Paris."}, received)
	})

	t.Run("Completion callback fires exactly once with the full text", func(t *testing.T) {
		var calls atomic.Int32
		var got string
		relay := NewStreamRelay(nil, nil, func(full string) {
			calls.Add(1)
			got = full
		})

		go func() {
			relay.Send("hello ")
			relay.Send("world")
			relay.Close()
			relay.Close()
			relay.Close()
		}()

		for range relay.Chunks() {
		}

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, "hello world", got)
	})

	t.Run("Callback runs before the consumer observes completion", func(t *testing.T) {
		done := make(chan struct{})
		relay := NewStreamRelay(nil, nil, func(string) {
			close(done)
		})

		go func() {
			relay.Send("chunk")
			relay.Close()
		}()

		for range relay.Chunks() {
		}
		select {
		case <-done:
		default:
			t.Fatal("consumer finished before the completion callback ran")
		}
	})

	t.Run("Trailers carry serialized context but stay out of the response", func(t *testing.T) {
		references := []ContextSnippet{{Compiled: "note one"}}
		online := map[string]any{"query": "weather"}

		var recorded string
		relay := NewStreamRelay(references, online, func(full string) { recorded = full })

		go func() {
			relay.Send("answer")
			relay.Close()
		}()

		var chunks []string
		for chunk := range relay.Chunks() {
			chunks = append(chunks, chunk)
		}

		require.Len(t, chunks, 3)
		assert.Equal(t, "answer", chunks[0])
		assert.True(t, strings.HasPrefix(chunks[1], referencesTrailerPrefix))
		assert.Contains(t, chunks[1], "note one")
		assert.True(t, strings.HasPrefix(chunks[2], onlineTrailerPrefix))
		assert.Contains(t, chunks[2], "weather")
		assert.Equal(t, "answer", recorded)
	})

	t.Run("Abandoned consumer does not block the producer", func(t *testing.T) {
		var recorded string
		var wg sync.WaitGroup
		relay := NewStreamRelay(nil, nil, func(full string) { recorded = full })

		wg.Add(1)
		go func() {
			defer wg.Done()
			// Far more chunks than the relay buffers.
			for i := 0; i < relayBufferSize*4; i++ {
				relay.Send("x")
			}
			relay.Close()
		}()

		// Consumer reads one chunk, then walks away.
		<-relay.Chunks()
		relay.Abandon()

		wg.Wait()
		assert.Equal(t, strings.Repeat("x", relayBufferSize*4), recorded)
	})

	t.Run("Short-circuit path still completes the stream", func(t *testing.T) {
		var calls atomic.Int32
		relay := NewStreamRelay(nil, nil, func(full string) {
			calls.Add(1)
			assert.Equal(t, NoNotesFound, full)
		})

		relay.Send(NoNotesFound)
		relay.Close()

		var chunks []string
		for chunk := range relay.Chunks() {
			chunks = append(chunks, chunk)
		}
		assert.Equal(t, []string{NoNotesFound}, chunks)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Partial output is observable after a failed stream", func(t *testing.T) {
		relay := NewStreamRelay(nil, nil, nil)
		relay.Send("partial ans")

		assert.Equal(t, "partial ans", relay.Response())

		relay.Abandon()
		relay.Close()
		// Channel closes promptly even though nobody consumed it.
		select {
		case _, open := <-relay.Chunks():
			assert.True(t, open) // buffered chunk first
		case <-time.After(time.Second):
			t.Fatal("relay did not close")
		}
	})
}
