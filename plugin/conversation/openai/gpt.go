package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ziQzav/khoj/plugin/conversation"
)

// ConverseRequest carries everything needed for one streamed exchange.
type ConverseRequest struct {
	UserQuery     string
	References    []conversation.ContextSnippet
	OnlineResults map[string]any
	Log           conversation.Log
	Commands      []conversation.Command

	Model         string
	Temperature   float32
	MaxPromptSize int
	TokenizerName string

	// AgentName and AgentPersonality override the default personality
	// when both are set.
	AgentName        string
	AgentPersonality string
	Location         string
	UserName         string

	// OnComplete receives the full response exactly once when the stream
	// ends; callers persist the turn there.
	OnComplete func(fullResponse string)
}

// Converse streams a model response to the user query, primed with
// retrieved notes, online results and bounded conversation history. The
// returned relay is already being produced into; the caller consumes it.
func (c *Client) Converse(ctx context.Context, req *ConverseRequest) *conversation.StreamRelay {
	relay := conversation.NewStreamRelay(req.References, req.OnlineResults, req.OnComplete)

	// Canned short-circuits still close the relay so the completion
	// callback, and with it turn persistence, always fires.
	if conversation.OnlyCommand(req.Commands, conversation.CommandNotes) && len(req.References) == 0 {
		relay.Send(conversation.NoNotesFound)
		relay.Close()
		return relay
	}
	if conversation.OnlyCommand(req.Commands, conversation.CommandOnline) && len(req.OnlineResults) == 0 {
		relay.Send(conversation.NoOnlineResultsFound)
		relay.Close()
		return relay
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.2
	}

	systemPrompt := c.systemPrompt(req)
	primer := c.conversationPrimer(req)

	messages := c.prompts.Build(req.Log, primer, systemPrompt, conversation.PromptOptions{
		ModelName:     req.Model,
		TokenizerName: req.TokenizerName,
		MaxPromptSize: req.MaxPromptSize,
	})

	// The producer outlives the request: a disconnected viewer must not
	// lose the turn, so the model call is detached from request
	// cancellation.
	go c.StreamCompletion(context.WithoutCancel(ctx), messages, req.Model, relay,
		WithTemperature(temperature),
		WithStop("Notes:\n["))

	return relay
}

func (c *Client) systemPrompt(req *ConverseRequest) string {
	now := time.Now()
	prompt := conversation.PersonalityPrompt(now)
	if req.AgentName != "" && req.AgentPersonality != "" {
		prompt = conversation.CustomPersonalityPrompt(req.AgentName, req.AgentPersonality, now)
	}
	if req.Location != "" {
		prompt += "\n" + conversation.UserLocationPrompt(req.Location)
	}
	if req.UserName != "" {
		prompt += "\n" + conversation.UserNamePrompt(req.UserName)
	}
	return prompt
}

func (c *Client) conversationPrimer(req *ConverseRequest) string {
	primer := conversation.QueryPrompt(req.UserQuery)
	if conversation.HasCommand(req.Commands, conversation.CommandOnline) ||
		conversation.HasCommand(req.Commands, conversation.CommandWebpage) {
		if serialized, err := json.Marshal(req.OnlineResults); err == nil {
			primer = conversation.OnlineSearchConversationPrompt(string(serialized)) + "\n" + primer
		}
	}
	if len(req.References) > 0 {
		primer = conversation.NotesConversationPrompt(req.References) + "\n\n" + primer
	}
	return primer
}

// ExtractRequest configures search query inference.
type ExtractRequest struct {
	Text     string
	Log      conversation.Log
	Model    string
	Location string
}

const extractQuestionsTemplate = `You are Khoj, an extremely smart and helpful search assistant with the ability to retrieve information from the user's notes.
Construct search queries to retrieve relevant information to answer the user's question.
- You will be provided past questions(Q) and answers(A) for context.
- Add as much context from the previous questions and answers as required into your search queries.
- Break your search query into multiple search queries if required to retrieve the relevant information.
- Add date filters to your search queries from questions and answers when required to retrieve the relevant information.

Current Date: %s
User's Location: %s

%s
Q: %s
Khoj: `

// ExtractQuestions infers search queries to retrieve notes relevant to
// the user's message. Malformed model output is never fatal: the original
// message becomes the sole query.
func (c *Client) ExtractQuestions(ctx context.Context, req *ExtractRequest) []string {
	location := req.Location
	if location == "" {
		location = "Unknown"
	}

	prompt := fmt.Sprintf(extractQuestionsTemplate,
		time.Now().Format("2006-01-02"),
		location,
		extractionHistory(req.Log),
		req.Text)

	response, err := c.Complete(ctx,
		[]conversation.ChatMessage{{Role: conversation.RoleUser, Content: prompt}},
		req.Model,
		WithJSONResponse(),
		WithMaxTokens(100))
	if err != nil {
		slog.Warn("search query inference failed, using raw message", "error", err)
		return []string{req.Text}
	}

	return parseInferredQueries(response, req.Text)
}

// extractionHistory renders the last few completed turns as Q/A context
// for query inference. Image-generation turns carry no searchable text
// and are skipped.
func extractionHistory(log conversation.Log) string {
	const maxTurns = 4

	var sb strings.Builder
	turns := log.Turns
	start := len(turns) - maxTurns
	if start < 0 {
		start = 0
	}
	for _, turn := range turns[start:] {
		if !turn.Completed() || turn.Intent == conversation.IntentTextToImage {
			continue
		}
		queries := turn.InferredQueries
		if len(queries) == 0 {
			queries = []string{turn.UserText}
		}
		serialized, err := json.Marshal(queries)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Q: %s\nKhoj: {\"queries\": %s}\nA: %s\n\n", turn.UserText, serialized, turn.AssistantText)
	}
	return sb.String()
}

// parseInferredQueries extracts the queries list from a structured model
// response, falling back to the original text on any malformation.
func parseInferredQueries(response, fallback string) []string {
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		slog.Warn("model returned invalid JSON for inferred queries, using raw message", "response", response)
		return []string{fallback}
	}

	queries := make([]string, 0, len(parsed.Queries))
	for _, q := range parsed.Queries {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			queries = append(queries, trimmed)
		}
	}
	if len(queries) == 0 {
		slog.Warn("model inferred no usable queries, using raw message")
		return []string{fallback}
	}
	return queries
}
