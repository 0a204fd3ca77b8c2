package llms

import "fmt"

// Response is a single response from an LLM.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Turn is a single turn taken in the conversation. In a user's turn
// Content is the prompt, in an assistant's turn it is the response.
type Turn struct {
	Role      TurnRole
	Content   string
	ToolCalls []ToolCall
}

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
}

// GenerationError reports a failed response generation. It wraps the
// underlying transport error when one is available.
type GenerationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("response generation failed (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("response generation failed: %v", e.Err)
	}
	return fmt.Sprintf("response generation failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }
