package conversation

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenizerName is the encoding used when no model-specific
// tokenizer can be resolved. cl100k_base is a reasonable approximation
// for all supported model families.
const DefaultTokenizerName = "cl100k_base"

// Tokenizer converts text to and from a model's token representation.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// CountTokens returns the token cost of text under the given tokenizer.
func CountTokens(tok Tokenizer, text string) int {
	return len(tok.Encode(text))
}

// LocalModel is a chat model loaded in-process. Offline runtimes expose
// their native tokenizer and context window through this interface.
type LocalModel interface {
	Tokenizer() Tokenizer
	ContextLength() int
}

// ModelLoader lazily loads local models by name.
type ModelLoader interface {
	Load(modelName string) (LocalModel, error)
}

// ModelFamily tags a model name with the provider family that determines
// its canonical tokenizer and conservative prompt budget.
type ModelFamily string

const (
	FamilyOpenAI  ModelFamily = "openai"
	FamilyOffline ModelFamily = "offline"
	FamilyUnknown ModelFamily = "unknown"
)

var modelFamilies = map[string]ModelFamily{
	"gpt-3.5-turbo":                          FamilyOpenAI,
	"gpt-3.5-turbo-0125":                     FamilyOpenAI,
	"gpt-4":                                  FamilyOpenAI,
	"gpt-4-0125-preview":                     FamilyOpenAI,
	"gpt-4-turbo-preview":                    FamilyOpenAI,
	"gpt-4o":                                 FamilyOpenAI,
	"gpt-4o-mini":                            FamilyOpenAI,
	"TheBloke/Mistral-7B-Instruct-v0.2-GGUF": FamilyOffline,
	"NousResearch/Hermes-2-Pro-Mistral-7B-GGUF": FamilyOffline,
}

// FamilyOf returns the model family for a model name. Unlisted models are
// FamilyUnknown and resolve through the explicit tokenizer name, the
// model loader, or the default tokenizer, in that order.
func FamilyOf(modelName string) ModelFamily {
	if family, ok := modelFamilies[modelName]; ok {
		return family
	}
	return FamilyUnknown
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

// TokenizerResolver resolves tokenizers for model identifiers with a
// layered fallback policy. Resolution never fails: every error path
// degrades to the default tokenizer.
//
// Loaded tokenizers are cached by identifier for the lifetime of the
// resolver. The cache is append-only; concurrent first-load races for the
// same identifier do redundant work instead of serializing, which is fine
// because loads are idempotent and cheap next to model inference.
type TokenizerResolver struct {
	mu       sync.RWMutex
	encoders map[string]Tokenizer

	loader ModelLoader

	// Injection points for the tiktoken constructors, overridable in tests.
	encodingForModel func(modelName string) (Tokenizer, error)
	getEncoding      func(encodingName string) (Tokenizer, error)
}

// NewTokenizerResolver creates a resolver backed by tiktoken encodings.
func NewTokenizerResolver() *TokenizerResolver {
	return &TokenizerResolver{
		encoders: make(map[string]Tokenizer),
		encodingForModel: func(modelName string) (Tokenizer, error) {
			enc, err := tiktoken.EncodingForModel(modelName)
			if err != nil {
				return nil, err
			}
			return &tiktokenTokenizer{enc: enc}, nil
		},
		getEncoding: func(encodingName string) (Tokenizer, error) {
			enc, err := tiktoken.GetEncoding(encodingName)
			if err != nil {
				return nil, err
			}
			return &tiktokenTokenizer{enc: enc}, nil
		},
	}
}

// WithModelLoader sets the loader used to resolve tokenizers of local
// models that are not yet loaded.
func (r *TokenizerResolver) WithModelLoader(loader ModelLoader) *TokenizerResolver {
	r.loader = loader
	return r
}

// Resolve returns a tokenizer for the given model, trying in order: the
// already-loaded local model's native tokenizer, the canonical tokenizer
// of a known hosted-model family, an explicitly named tokenizer, the
// default local model for the name, and finally the default tokenizer.
func (r *TokenizerResolver) Resolve(modelName, tokenizerName string, loaded LocalModel) Tokenizer {
	if loaded != nil {
		return loaded.Tokenizer()
	}

	if FamilyOf(modelName) == FamilyOpenAI {
		if tok, ok := r.cached(modelName); ok {
			return tok
		}
		tok, err := r.encodingForModel(modelName)
		if err == nil {
			return r.store(modelName, tok)
		}
		slog.Warn("no canonical tokenizer for hosted model", "model", modelName, "error", err)
		return r.fallback(modelName, tokenizerName)
	}

	if tokenizerName != "" {
		if tok, ok := r.cached(tokenizerName); ok {
			return tok
		}
		tok, err := r.getEncoding(tokenizerName)
		if err == nil {
			return r.store(tokenizerName, tok)
		}
		slog.Warn("failed to load configured tokenizer", "tokenizer", tokenizerName, "error", err)
		return r.fallback(modelName, tokenizerName)
	}

	if r.loader != nil {
		model, err := r.loader.Load(modelName)
		if err == nil {
			return model.Tokenizer()
		}
		slog.Warn("failed to load local model for tokenizer", "model", modelName, "error", err)
	}

	return r.fallback(modelName, tokenizerName)
}

func (r *TokenizerResolver) fallback(modelName, tokenizerName string) Tokenizer {
	slog.Warn("falling back to default tokenizer; configure a tokenizer for this model to improve context stuffing",
		"model", modelName, "tokenizer", tokenizerName, "default", DefaultTokenizerName)
	if tok, ok := r.cached(DefaultTokenizerName); ok {
		return tok
	}
	tok, err := r.getEncoding(DefaultTokenizerName)
	if err != nil {
		// The default encoding ships with tiktoken-go; failing to load it
		// means a broken installation. Degrade to a crude estimator so
		// resolution still never fails.
		slog.Error("default tokenizer unavailable", "error", err)
		return approximateTokenizer{}
	}
	return r.store(DefaultTokenizerName, tok)
}

func (r *TokenizerResolver) cached(name string) (Tokenizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.encoders[name]
	return tok, ok
}

// store inserts the tokenizer under name unless another goroutine won the
// load race, in which case the first entry is kept so every call site
// observes the same encoder for an identifier.
func (r *TokenizerResolver) store(name string, tok Tokenizer) Tokenizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.encoders[name]; ok {
		return existing
	}
	r.encoders[name] = tok
	return tok
}

// approximateTokenizer estimates four characters per token. Last-resort
// only; decode round-trips are lossy.
type approximateTokenizer struct{}

func (approximateTokenizer) Encode(text string) []int {
	n := (len(text) + 3) / 4
	ids := make([]int, n)
	return ids
}

func (approximateTokenizer) Decode(ids []int) string {
	return ""
}
