package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/runtime"
	"github.com/perrymanuk/radbot/internal/store"
)

const (
	// eventTruncateLimit caps the runtime buffer before every invocation.
	// This bounds prompt size and sheds poisoned empty model events.
	eventTruncateLimit = 20

	apologyText = "I'm sorry, I wasn't able to produce a response. Please try again."
)

// Store is the persistence surface the runner needs. *store.Store
// satisfies it; tests substitute a fake.
type Store interface {
	EnsureSession(ctx context.Context, id uuid.UUID, name, userID string) (*store.Session, error)
	RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]*store.Message, error)
	AddMessage(ctx context.Context, m *store.Message) (uuid.UUID, error)
	TouchSession(ctx context.Context, id uuid.UUID, preview string, at time.Time) error
}

// TurnResult is the outcome of one ProcessMessage call.
type TurnResult struct {
	Response  string  `json:"response"`
	Events    []Event `json:"events"`
	AgentName string  `json:"agent_name,omitempty"`
}

// Runner owns one session's conversation loop. A per-session mutex
// serializes turns; only one invocation is in flight at a time.
type Runner struct {
	sessionID uuid.UUID
	userID    string

	st            Store
	rt            runtime.Runner
	sessions      *runtime.SessionService
	models        map[string]string // agent name -> model name, for transfer events
	historyReplay int
	log           *logger.Logger

	mu     sync.Mutex
	events *eventLog
}

// NewRunner bootstraps a session: ensures the chat_sessions row, creates a
// fresh runtime session, and replays up to historyReplay persisted messages
// into it. Zero disables replay.
func NewRunner(ctx context.Context, sessionID uuid.UUID, st Store, rt runtime.Runner,
	sessions *runtime.SessionService, models map[string]string, historyReplay int,
	log *logger.Logger) (*Runner, error) {

	r := &Runner{
		sessionID:     sessionID,
		userID:        store.DefaultUserID,
		st:            st,
		rt:            rt,
		sessions:      sessions,
		models:        models,
		historyReplay: historyReplay,
		log:           log.WithSessionID(sessionID.String()),
		events:        newEventLog(),
	}

	if _, err := st.EnsureSession(ctx, sessionID, "", r.userID); err != nil {
		return nil, fmt.Errorf("session bootstrap: %w", err)
	}

	if err := r.replayHistory(ctx); err != nil {
		// History replay is best-effort; a fresh buffer still works.
		r.log.WithError(err).Warn("history replay failed")
	}

	return r, nil
}

// SessionID returns the session id.
func (r *Runner) SessionID() uuid.UUID {
	return r.sessionID
}

// replayHistory seeds the runtime session with the last few persisted
// messages, grouping each (user, assistant) pair under one invocation id
// so the runtime treats them as one turn.
func (r *Runner) replayHistory(ctx context.Context) error {
	if r.historyReplay <= 0 {
		return nil
	}
	msgs, err := r.st.RecentMessages(ctx, r.sessionID, r.historyReplay)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	sess := r.sessions.GetOrCreate(r.rt.AppName(), r.userID, r.sessionID.String())
	invocationID := uuid.NewString()
	for _, m := range msgs {
		var content *runtime.Content
		author := "user"
		switch m.Role {
		case store.RoleAssistant:
			content = runtime.NewModelText(m.Content)
			author = m.AgentName
			if author == "" {
				author = r.rt.AppName()
			}
		case store.RoleSystem:
			content = runtime.NewUserText(m.Content)
		default:
			// A user message starts a new replayed turn.
			invocationID = uuid.NewString()
			content = runtime.NewUserText(m.Content)
		}
		sess.AppendEvent(&runtime.Event{
			Author:       author,
			InvocationID: invocationID,
			Content:      content,
			Timestamp:    m.CreatedAt,
		})
	}
	r.log.Debug("replayed history", zap.Int("messages", len(msgs)))
	return nil
}

// ProcessMessage drives one turn: truncate the runtime buffer, invoke the
// runtime, classify the event stream, recover degenerate responses,
// persist, and return the response plus the turn's events.
func (r *Runner) ProcessMessage(ctx context.Context, text string) (*TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions.GetOrCreate(r.rt.AppName(), r.userID, r.sessionID.String())
	sess.TruncateEvents(eventTruncateLimit)

	ch, err := r.rt.Run(ctx, r.userID, r.sessionID.String(), runtime.NewUserText(text))
	if err != nil {
		return nil, fmt.Errorf("run turn: %w", err)
	}

	var (
		turnEvents       []Event
		raws             []*runtime.Event
		finalText        string
		lastIntermediate string
		finalRaw         *runtime.Event
		agentName        string
	)

	for e := range ch {
		raws = append(raws, e)
		for _, ev := range r.classify(e) {
			if r.events.add(ev) {
				turnEvents = append(turnEvents, ev)
			}
		}
		if isModelResponse(e) {
			if e.Author != "" {
				agentName = e.Author
			}
			txt := e.Content.Text()
			if e.IsFinalResponse() {
				finalRaw = e
				if txt != "" {
					finalText = txt
				}
			} else if txt != "" {
				lastIntermediate = txt
			}
		}
	}

	// Malformed-function-call recovery: the model emitted print(...) code
	// instead of text.
	if finalText == "" && finalRaw != nil && finalRaw.FinishReason == runtime.FinishReasonMalformedFunctionCall {
		if recovered := recoverPrintedText(finalRaw.RawText); recovered != "" {
			finalText = recovered
			ev := Event{
				Kind:      KindModelResponse,
				Summary:   "Model Response",
				Timestamp: time.Now().UTC(),
				Payload:   map[string]any{"text": recovered, "is_final": true},
				Details:   map[string]any{"recovered_from": "malformed_function_call"},
			}
			if r.events.add(ev) {
				turnEvents = append(turnEvents, ev)
			}
			r.log.Warn("recovered text from malformed function call",
				zap.Int("chars", len(recovered)))
		}
	}

	if finalText == "" {
		finalText = lastIntermediate
	}
	if finalText == "" {
		finalText = apologyText
		r.logEmptyResponse(raws)
	}

	rendered := renderResponse(finalText)
	if agentName == "" {
		agentName = r.rt.AppName()
	}

	// Persistence must complete even when the client disconnected
	// mid-turn, so history and telemetry stay consistent.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.persistTurn(persistCtx, text, rendered, agentName); err != nil {
		r.log.WithError(err).Error("persist turn failed")
	}

	return &TurnResult{
		Response:  rendered,
		Events:    filterTurnEvents(turnEvents),
		AgentName: agentName,
	}, nil
}

// persistTurn appends the user and assistant messages.
func (r *Runner) persistTurn(ctx context.Context, userText, response, agentName string) error {
	if _, err := r.st.AddMessage(ctx, &store.Message{
		SessionID: r.sessionID,
		Role:      store.RoleUser,
		Content:   userText,
	}); err != nil {
		return err
	}
	if _, err := r.st.AddMessage(ctx, &store.Message{
		SessionID: r.sessionID,
		Role:      store.RoleAssistant,
		Content:   response,
		AgentName: agentName,
	}); err != nil {
		return err
	}
	// Session listings sort by recency and show the latest user text.
	return r.st.TouchSession(ctx, r.sessionID, userText, time.Now().UTC())
}

// PersistSystemMessage appends a system message (scheduler and webhook
// traffic).
func (r *Runner) PersistSystemMessage(ctx context.Context, text string) error {
	_, err := r.st.AddMessage(ctx, &store.Message{
		SessionID: r.sessionID,
		Role:      store.RoleSystem,
		Content:   text,
	})
	return err
}

// classify converts one runtime event into zero or more classified
// records. Priority: transfer, tool activity, plan, model response, other.
func (r *Runner) classify(e *runtime.Event) []Event {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if target := e.Actions.TransferToAgent; target != "" {
		payload := map[string]any{
			"from_agent": e.Author,
			"to_agent":   target,
		}
		if model, ok := r.models[target]; ok {
			payload["model"] = model
		}
		return []Event{{
			Kind:      KindAgentTransfer,
			Summary:   "Agent Transfer to " + target,
			Timestamp: ts,
			Payload:   payload,
		}}
	}

	var out []Event
	for _, call := range e.FunctionCalls() {
		if call.Name == runtime.TransferToolName {
			continue
		}
		out = append(out, Event{
			Kind:      KindToolCall,
			Summary:   "Tool Call: " + call.Name,
			Timestamp: ts,
			Payload:   map[string]any{"tool": call.Name, "args": call.Args},
		})
	}
	for _, resp := range e.FunctionResponses() {
		if resp.Name == runtime.TransferToolName {
			continue
		}
		out = append(out, Event{
			Kind:      KindToolCall,
			Summary:   "Tool Call: " + resp.Name,
			Timestamp: ts,
			Payload:   map[string]any{"tool": resp.Name, "output": resp.Response},
		})
	}
	if len(out) > 0 {
		return out
	}

	if step := e.PlanStep(); step != "" {
		return []Event{{
			Kind:      KindPlanner,
			Summary:   "Plan Step",
			Timestamp: ts,
			Payload:   map[string]any{"step": step},
		}}
	}

	if isModelResponse(e) {
		return []Event{{
			Kind:      KindModelResponse,
			Summary:   "Model Response",
			Timestamp: ts,
			Payload: map[string]any{
				"text":     e.Content.Text(),
				"is_final": e.IsFinalResponse(),
			},
		}}
	}

	return []Event{{
		Kind:      KindOther,
		Summary:   "Runtime Event",
		Timestamp: ts,
		Details:   map[string]any{"finish_reason": e.FinishReason},
	}}
}

// isModelResponse reports whether the event is plain model output rather
// than tool activity or a transfer.
func isModelResponse(e *runtime.Event) bool {
	if e.Actions.TransferToAgent != "" {
		return false
	}
	if len(e.FunctionCalls()) > 0 || len(e.FunctionResponses()) > 0 {
		return false
	}
	if e.Content != nil && e.Content.Text() != "" {
		return true
	}
	return e.IsFinalResponse()
}

// filterTurnEvents keeps all non-model events plus only the last model
// response, so clients never see duplicate assistant messages.
func filterTurnEvents(events []Event) []Event {
	lastModel := -1
	for i, e := range events {
		if e.Kind == KindModelResponse {
			lastModel = i
		}
	}
	out := make([]Event, 0, len(events))
	for i, e := range events {
		if e.Kind == KindModelResponse && i != lastModel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// logEmptyResponse emits a per-event diagnostic. Empty content poisons
// subsequent turns, so the breakdown matters more than the single warning.
func (r *Runner) logEmptyResponse(raws []*runtime.Event) {
	breakdown := make([]map[string]any, 0, len(raws))
	for _, e := range raws {
		entry := map[string]any{
			"author":        e.Author,
			"is_final":      e.IsFinalResponse(),
			"finish_reason": e.FinishReason,
			"parts":         0,
			"has_text":      false,
		}
		if e.Content != nil {
			entry["parts"] = len(e.Content.Parts)
			entry["has_text"] = e.Content.Text() != ""
			entry["role"] = e.Content.Role
		}
		breakdown = append(breakdown, entry)
	}
	r.log.Warn("no response text in event stream",
		zap.Int("events", len(raws)),
		zap.Any("breakdown", breakdown))
}

// Events returns the stored event log for the REST surface.
func (r *Runner) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events.snapshot()
}

// Reset clears the event log and drops the runtime buffer. Persisted
// history is untouched.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.reset()
	r.sessions.Delete(r.rt.AppName(), r.userID, r.sessionID.String())
}
