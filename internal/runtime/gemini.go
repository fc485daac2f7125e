package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/telemetry"
	"github.com/perrymanuk/radbot/internal/tool"
)

// TransferToolName is the built-in tool agents use to hand a turn to a
// sibling or sub-agent.
const TransferToolName = "transfer_to_agent"

// Agent is one node of the agent tree.
type Agent struct {
	Name        string
	Model       string
	Instruction string
	SubAgents   []*Agent
}

// Find walks the tree for an agent by name.
func (a *Agent) Find(name string) *Agent {
	if a == nil {
		return nil
	}
	if a.Name == name {
		return a
	}
	for _, sub := range a.SubAgents {
		if found := sub.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// allNames collects every agent name in the tree.
func (a *Agent) allNames() []string {
	if a == nil {
		return nil
	}
	names := []string{a.Name}
	for _, sub := range a.SubAgents {
		names = append(names, sub.allNames()...)
	}
	return names
}

// GeminiRunner runs turns against the Gemini API with local tool calling.
type GeminiRunner struct {
	client    *genai.Client
	root      *Agent
	sessions  *SessionService
	registry  *tool.Registry
	telemetry *telemetry.Accumulator
	log       *logger.Logger
	maxLoops  int
}

// NewGeminiRunner creates the production runner. The app name is derived
// from the root agent's name.
func NewGeminiRunner(ctx context.Context, apiKey string, root *Agent, sessions *SessionService,
	registry *tool.Registry, tel *telemetry.Accumulator, log *logger.Logger, maxLoops int) (*GeminiRunner, error) {

	if root == nil || root.Name == "" {
		return nil, fmt.Errorf("root agent is required")
	}
	if maxLoops <= 0 {
		maxLoops = 12
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiRunner{
		client:    client,
		root:      root,
		sessions:  sessions,
		registry:  registry,
		telemetry: tel,
		log:       log,
		maxLoops:  maxLoops,
	}, nil
}

// AppName returns the root agent's name.
func (r *GeminiRunner) AppName() string {
	return r.root.Name
}

// Run executes one turn. The returned channel is closed when the turn
// completes; the invocation always runs to completion even if the caller's
// context is cancelled mid-stream, so persistence and telemetry stay
// consistent.
func (r *GeminiRunner) Run(ctx context.Context, userID, sessionID string, msg *Content) (<-chan *Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is required")
	}

	sess := r.sessions.GetOrCreate(r.root.Name, userID, sessionID)
	invocationID := uuid.NewString()

	sess.AppendEvent(&Event{
		Author:       "user",
		InvocationID: invocationID,
		Content:      msg,
		Timestamp:    time.Now().UTC(),
	})

	ch := make(chan *Event, 32)
	go func() {
		defer close(ch)
		r.runLoop(ctx, sess, invocationID, ch)
	}()
	return ch, nil
}

func (r *GeminiRunner) runLoop(ctx context.Context, sess *Session, invocationID string, ch chan<- *Event) {
	current := r.root
	log := r.log.WithSessionID(sess.ID)

	for loop := 0; loop < r.maxLoops; loop++ {
		contents := r.buildContents(sess.Events())
		config := r.buildConfig(current)

		resp, err := r.client.Models.GenerateContent(ctx, current.Model, contents, config)
		if err != nil {
			log.WithError(err).WithAgent(current.Name).Error("model call failed")
			ch <- &Event{
				Author:       current.Name,
				InvocationID: invocationID,
				FinishReason: "ERROR",
				RawText:      err.Error(),
				Timestamp:    time.Now().UTC(),
			}
			return
		}

		usage := usageFrom(resp, current.Model)
		if usage != nil && r.telemetry != nil {
			r.telemetry.Record(usage.PromptTokens, usage.CachedTokens, usage.OutputTokens,
				current.Name, current.Model)
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			log.WithAgent(current.Name).Warn("empty candidate from model")
			ch <- &Event{
				Author:       current.Name,
				InvocationID: invocationID,
				FinishReason: "EMPTY",
				Usage:        usage,
				Timestamp:    time.Now().UTC(),
			}
			return
		}

		candidate := resp.Candidates[0]
		event := r.eventFromCandidate(candidate, current.Name, invocationID, usage)

		// Transfer takes priority over everything else in the response.
		if target := transferTarget(event); target != "" {
			event.Actions.TransferToAgent = target
			sess.AppendEvent(event)
			ch <- event

			next := r.root.Find(target)
			if next == nil {
				log.Warn("transfer to unknown agent", zap.String("target", target))
				next = r.root
			}
			sess.AppendEvent(toolAckEvent(invocationID, TransferToolName,
				map[string]any{"status": "transferred", "agent": next.Name}))
			current = next
			continue
		}

		calls := event.FunctionCalls()
		if len(calls) == 0 {
			sess.AppendEvent(event)
			ch <- event
			return
		}

		sess.AppendEvent(event)
		ch <- event
		for _, call := range calls {
			response := r.callTool(ctx, call, log)
			respEvent := &Event{
				Author:       current.Name,
				InvocationID: invocationID,
				Content: &Content{Role: "user", Parts: []Part{{
					FunctionResponse: &FunctionResponse{Name: call.Name, Response: response},
				}}},
				Timestamp: time.Now().UTC(),
			}
			sess.AppendEvent(respEvent)
			ch <- respEvent
		}
	}

	log.Warn("tool loop limit reached", zap.Int("max_loops", r.maxLoops))
	ch <- &Event{
		Author:       current.Name,
		InvocationID: invocationID,
		FinishReason: "MAX_TOOL_LOOPS",
		Timestamp:    time.Now().UTC(),
	}
}

// callTool executes a registry tool; errors become {error, message} results
// rather than aborting the turn.
func (r *GeminiRunner) callTool(ctx context.Context, call *FunctionCall, log *logger.Logger) map[string]any {
	result, err := r.registry.Call(ctx, call.Name, call.Args)
	if err != nil {
		log.WithError(err).Warn("tool call failed", zap.String("tool", call.Name))
		return map[string]any{"error": "tool_failed", "message": err.Error()}
	}
	if result == nil {
		result = map[string]any{"status": "ok"}
	}
	return result
}

// eventFromCandidate converts a model candidate into a runtime event. For
// malformed function calls the raw payload is preserved so the session
// runner can recover the text.
func (r *GeminiRunner) eventFromCandidate(candidate *genai.Candidate, author, invocationID string, usage *Usage) *Event {
	content := &Content{Role: "model"}
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			content.Parts = append(content.Parts, Part{
				FunctionCall: &FunctionCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args},
			})
		case part.Text != "":
			content.Parts = append(content.Parts, Part{Text: part.Text})
		}
	}

	event := &Event{
		Author:       author,
		InvocationID: invocationID,
		Content:      content,
		FinishReason: string(candidate.FinishReason),
		Usage:        usage,
		Timestamp:    time.Now().UTC(),
	}

	if event.FinishReason == FinishReasonMalformedFunctionCall {
		raw := content.Text()
		if raw == "" {
			if b, err := json.Marshal(candidate.Content); err == nil {
				raw = string(b)
			}
		}
		event.RawText = raw
	}
	return event
}

// transferTarget returns the transfer destination if the event carries a
// transfer_to_agent call.
func transferTarget(e *Event) string {
	for _, call := range e.FunctionCalls() {
		if call.Name != TransferToolName {
			continue
		}
		if name, ok := call.Args["agent_name"].(string); ok {
			return name
		}
	}
	return ""
}

func toolAckEvent(invocationID, name string, response map[string]any) *Event {
	return &Event{
		Author:       "user",
		InvocationID: invocationID,
		Content: &Content{Role: "user", Parts: []Part{{
			FunctionResponse: &FunctionResponse{Name: name, Response: response},
		}}},
		Timestamp: time.Now().UTC(),
	}
}

// buildContents renders the session buffer into genai messages.
func (r *GeminiRunner) buildContents(events []*Event) []*genai.Content {
	var contents []*genai.Content
	for _, e := range events {
		if e.Content == nil || len(e.Content.Parts) == 0 {
			continue
		}
		var parts []*genai.Part
		hasResponse := false
		for _, p := range e.Content.Parts {
			switch {
			case p.Text != "":
				parts = append(parts, &genai.Part{Text: p.Text})
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				hasResponse = true
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := "model"
		if e.Author == "user" || hasResponse {
			role = "user"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// buildConfig assembles generation config: system instruction, registry
// tools, and the transfer declaration when the tree has other agents.
func (r *GeminiRunner) buildConfig(current *Agent) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if current.Instruction != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: current.Instruction}},
		}
	}

	var declarations []*genai.FunctionDeclaration
	for _, t := range r.registry.List() {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.Schema),
		})
	}

	var targets []string
	for _, name := range r.root.allNames() {
		if name != current.Name {
			targets = append(targets, name)
		}
	}
	if len(targets) > 0 {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        TransferToolName,
			Description: "Hand the conversation to another agent.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"agent_name": {Type: genai.TypeString, Enum: targets},
				},
				Required: []string{"agent_name"},
			},
		})
	}

	if len(declarations) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return config
}

// toGenaiSchema converts a JSON-schema map into a genai schema.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, req := range required {
			if rs, ok := req.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	switch enum := schema["enum"].(type) {
	case []any:
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	case []string:
		s.Enum = append(s.Enum, enum...)
	}
	return s
}

// schemaType maps lowercase JSON-schema type names onto genai's uppercase
// type enum. Unknown names stay unspecified rather than passing through as
// invalid values.
func schemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

// usageFrom extracts token usage from a model response.
func usageFrom(resp *genai.GenerateContentResponse, model string) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens: int(resp.UsageMetadata.PromptTokenCount),
		CachedTokens: int(resp.UsageMetadata.CachedContentTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		Model:        model,
	}
}
