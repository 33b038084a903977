package conversation

const (
	// averageTokensPerTurn is the empirically chosen average cost of one
	// user/assistant exchange, used to scale history lookback with the
	// model's prompt budget.
	averageTokensPerTurn = 750

	// defaultMaxPromptTokens is the conservative budget for models absent
	// from the per-model table.
	defaultMaxPromptTokens = 2000

	// reservedOutputTokens is held back from a local model's context
	// window so the response has room to generate.
	reservedOutputTokens = 512

	// minPromptTokens is the floor for a derived prompt budget.
	minPromptTokens = 256
)

// modelPromptSizes maps known model names to the maximum prompt size used
// when no explicit override is configured.
var modelPromptSizes = map[string]int{
	"gpt-3.5-turbo":                             12000,
	"gpt-3.5-turbo-0125":                        12000,
	"gpt-4-0125-preview":                        20000,
	"gpt-4-turbo-preview":                       20000,
	"TheBloke/Mistral-7B-Instruct-v0.2-GGUF":    3500,
	"NousResearch/Hermes-2-Pro-Mistral-7B-GGUF": 3500,
}

// MaxPromptTokens returns the prompt token budget for a model. An
// explicit positive override wins. A loaded local model derives its
// budget from the native context window minus a reserved output
// allowance, capped by the table entry when one exists and floored at a
// minimum viable budget. Otherwise the static table decides, with a
// conservative default for unknown models.
func MaxPromptTokens(modelName string, override int, loaded LocalModel) int {
	if override > 0 {
		return override
	}

	if loaded != nil {
		budget := loaded.ContextLength() - reservedOutputTokens
		if tableSize, ok := modelPromptSizes[modelName]; ok && budget > tableSize {
			budget = tableSize
		}
		if budget < minPromptTokens {
			budget = minPromptTokens
		}
		return budget
	}

	if size, ok := modelPromptSizes[modelName]; ok {
		return size
	}
	return defaultMaxPromptTokens
}

// LookbackTurns returns how many past turns to consider for context,
// proportional to the prompt budget. Zero is valid and means no history
// is considered.
func LookbackTurns(maxPromptTokens int) int {
	if maxPromptTokens < 0 {
		return 0
	}
	return maxPromptTokens / averageTokensPerTurn
}
