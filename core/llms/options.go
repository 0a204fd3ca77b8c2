package llms

type PromptOptions struct {
	Instructions    string
	Turns           []Turn
	Tools           []Tool
	ForcedToolsCall bool
}

type PromptOption func(*PromptOptions)

// WithSystemPrompt sets the system prompt. Repeating this option
// overwrites the previous system prompt.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns adds conversation history to the prompt. Repeating this
// option sequentially adds more turns.
func WithTurns(turns ...Turn) PromptOption {
	return func(opts *PromptOptions) {
		opts.Turns = append(opts.Turns, turns...)
	}
}

// WithTools adds tools the LLM may call while generating a response.
func WithTools(tools ...Tool) PromptOption {
	return func(opts *PromptOptions) {
		opts.Tools = append(opts.Tools, tools...)
	}
}

// WithForcedTools requires the LLM to call a tool in its first
// response. Note that any available tool can be used, not just the
// ones passed into this option.
func WithForcedTools(tools ...Tool) PromptOption {
	return func(opts *PromptOptions) {
		opts.Tools = append(opts.Tools, tools...)
		opts.ForcedToolsCall = true
	}
}
