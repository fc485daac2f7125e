// Package runtime adapts the LLM agent library behind a small Runner
// interface. The adapter forwards events without interpreting them; all
// classification lives in the session package.
package runtime

import (
	"context"
	"time"
)

// FinishReasonMalformedFunctionCall marks a model response that emitted
// broken tool-call code instead of text. The session runner recovers the
// text from RawText.
const FinishReasonMalformedFunctionCall = "MALFORMED_FUNCTION_CALL"

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is a tool result fed back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one piece of content in a message or event.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Plan             string            `json:"plan,omitempty"`
}

// Content is a role-tagged sequence of parts.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserText wraps text as user content.
func NewUserText(text string) *Content {
	return &Content{Role: "user", Parts: []Part{{Text: text}}}
}

// NewModelText wraps text as model content.
func NewModelText(text string) *Content {
	return &Content{Role: "model", Parts: []Part{{Text: text}}}
}

// Text concatenates the text parts.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var out string
	for _, p := range c.Parts {
		if p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Actions carries runtime side effects attached to an event.
type Actions struct {
	TransferToAgent string `json:"transfer_to_agent,omitempty"`
}

// Usage is token accounting for one model response.
type Usage struct {
	PromptTokens int
	CachedTokens int
	OutputTokens int
	Model        string
}

// Event is one runtime emission during a turn.
type Event struct {
	Author       string    `json:"author,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Content      *Content  `json:"content,omitempty"`
	Actions      Actions   `json:"actions,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	RawText      string    `json:"-"`
	Usage        *Usage    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// FunctionCalls returns the function calls carried in the event content.
func (e *Event) FunctionCalls() []*FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []*FunctionCall
	for _, p := range e.Content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function responses carried in the event
// content.
func (e *Event) FunctionResponses() []*FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []*FunctionResponse
	for _, p := range e.Content.Parts {
		if p.FunctionResponse != nil {
			responses = append(responses, p.FunctionResponse)
		}
	}
	return responses
}

// PlanStep returns the plan text if the event carries one.
func (e *Event) PlanStep() string {
	if e.Content == nil {
		return ""
	}
	for _, p := range e.Content.Parts {
		if p.Plan != "" {
			return p.Plan
		}
	}
	return ""
}

// IsFinalResponse reports whether the event is a terminal model response:
// not partial, no pending tool work, no transfer.
func (e *Event) IsFinalResponse() bool {
	if e.Partial {
		return false
	}
	if e.Actions.TransferToAgent != "" {
		return false
	}
	if len(e.FunctionCalls()) > 0 || len(e.FunctionResponses()) > 0 {
		return false
	}
	return e.Content != nil || e.FinishReason != ""
}

// Runner drives one turn of the agent pipeline. Implementations append the
// user message and every emitted event to the runtime session buffer, so
// callers control prompt size via SessionService.TruncateEvents.
type Runner interface {
	// Run starts a turn and returns the ordered event stream. The channel
	// is closed when the turn completes; errors after the first event are
	// surfaced as events with an error finish reason.
	Run(ctx context.Context, userID, sessionID string, msg *Content) (<-chan *Event, error)

	// AppName identifies the application, derived from the root agent's
	// name.
	AppName() string
}
