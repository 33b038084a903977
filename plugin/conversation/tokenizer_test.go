package conversation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStubResolver returns a resolver whose tiktoken constructors are
// replaced so tests never touch encoding data.
func newStubResolver(tok Tokenizer) *TokenizerResolver {
	r := NewTokenizerResolver()
	r.encodingForModel = func(string) (Tokenizer, error) { return tok, nil }
	r.getEncoding = func(string) (Tokenizer, error) { return tok, nil }
	return r
}

type stubLocalModel struct {
	tokenizer  Tokenizer
	contextLen int
}

func (m *stubLocalModel) Tokenizer() Tokenizer { return m.tokenizer }
func (m *stubLocalModel) ContextLength() int   { return m.contextLen }

type stubLoader struct {
	model *stubLocalModel
	err   error
	calls int
}

func (l *stubLoader) Load(modelName string) (LocalModel, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

func TestTokenizerResolver(t *testing.T) {
	t.Run("Loaded local model wins", func(t *testing.T) {
		native := runeTokenizer{}
		r := newStubResolver(nil)
		r.encodingForModel = func(string) (Tokenizer, error) {
			t.Fatal("hosted tokenizer should not be consulted")
			return nil, nil
		}

		tok := r.Resolve("gpt-4", "", &stubLocalModel{tokenizer: native, contextLen: 4096})
		assert.Equal(t, native, tok)
	})

	t.Run("Hosted models use the canonical tokenizer and cache it", func(t *testing.T) {
		calls := 0
		r := NewTokenizerResolver()
		r.encodingForModel = func(model string) (Tokenizer, error) {
			calls++
			return runeTokenizer{}, nil
		}

		first := r.Resolve("gpt-4", "", nil)
		second := r.Resolve("gpt-4", "", nil)

		require.NotNil(t, first)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, calls)
	})

	t.Run("Explicit tokenizer name is loaded once", func(t *testing.T) {
		calls := 0
		r := NewTokenizerResolver()
		r.getEncoding = func(name string) (Tokenizer, error) {
			calls++
			assert.Equal(t, "o200k_base", name)
			return runeTokenizer{}, nil
		}

		r.Resolve("my-custom-model", "o200k_base", nil)
		r.Resolve("my-custom-model", "o200k_base", nil)

		assert.Equal(t, 1, calls)
	})

	t.Run("Unknown model without tokenizer name consults the loader", func(t *testing.T) {
		native := runeTokenizer{}
		loader := &stubLoader{model: &stubLocalModel{tokenizer: native, contextLen: 2048}}
		r := newStubResolver(runeTokenizer{})
		r.WithModelLoader(loader)

		tok := r.Resolve("some-local-model", "", nil)

		assert.Equal(t, native, tok)
		assert.Equal(t, 1, loader.calls)
	})

	t.Run("Every failure path degrades to the default tokenizer", func(t *testing.T) {
		fallback := runeTokenizer{}
		r := NewTokenizerResolver()
		r.encodingForModel = func(string) (Tokenizer, error) { return nil, errors.New("unknown model") }
		r.getEncoding = func(name string) (Tokenizer, error) {
			if name == DefaultTokenizerName {
				return fallback, nil
			}
			return nil, errors.New("unknown encoding")
		}
		r.WithModelLoader(&stubLoader{err: errors.New("no such model")})

		assert.Equal(t, Tokenizer(fallback), r.Resolve("gpt-4", "", nil))
		assert.Equal(t, Tokenizer(fallback), r.Resolve("mystery", "bad-encoding", nil))
		assert.Equal(t, Tokenizer(fallback), r.Resolve("mystery", "", nil))
	})

	t.Run("Resolution never fails even when the default is broken", func(t *testing.T) {
		r := NewTokenizerResolver()
		r.encodingForModel = func(string) (Tokenizer, error) { return nil, errors.New("boom") }
		r.getEncoding = func(string) (Tokenizer, error) { return nil, errors.New("boom") }

		tok := r.Resolve("gpt-4", "", nil)

		require.NotNil(t, tok)
		assert.Greater(t, len(tok.Encode("some text to estimate")), 0)
	})

	t.Run("Concurrent first loads observe one encoder per identifier", func(t *testing.T) {
		r := NewTokenizerResolver()
		r.getEncoding = func(string) (Tokenizer, error) { return &tiktokenTokenizer{}, nil }

		results := make([]Tokenizer, 8)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = r.Resolve("", "shared-encoding", nil)
			}(i)
		}
		wg.Wait()

		for _, tok := range results[1:] {
			assert.Same(t, results[0], tok)
		}
	})
}
