package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/llms"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/internal/utils"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"

	completionsPath = "/v1/chat/completions"

	// maxToolCallRounds caps the prompt loop so a model that keeps
	// requesting tools cannot stall a live call indefinitely.
	maxToolCallRounds = 8
)

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the API endpoint. Intended for tests and
// OpenAI-compatible providers.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Prompt sends the prompt with the accumulated conversation history
// and resolves any tool calls the model requests before returning the
// final response.
func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	messages := toMessages(options.Instructions, options.Turns)
	messages = append(messages, message{
		Role:    messageRoleUser,
		Content: prompt,
	})

	var toolChoice *string
	var tools []tool
	if options.Tools != nil {
		toolChoice = utils.Ptr("auto")
		if options.ForcedToolsCall {
			toolChoice = utils.Ptr("required")
		}
		tools = toTools(options.Tools)
	}

	span.SetAttributes(attribute.String("request.model", c.model))

	response := llms.Response{}

	for round := 0; ; round++ {
		if round >= maxToolCallRounds {
			err := fmt.Errorf("tool call limit reached after %d rounds", round)
			span.RecordError(err)
			return nil, &llms.GenerationError{Err: err}
		}

		completion, err := c.complete(ctx, requestBody{
			Model:      c.model,
			Messages:   messages,
			Tools:      tools,
			ToolChoice: toolChoice,
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		assistantMsg := completion.Choices[0].Message
		messages = append(messages, assistantMsg)
		response.Content = assistantMsg.Content
		for _, tCall := range assistantMsg.ToolCalls {
			response.ToolCalls = append(response.ToolCalls, llms.ToolCall{
				ID:        tCall.ID,
				Name:      tCall.Function.Name,
				Arguments: tCall.Function.Arguments,
			})
		}

		if len(assistantMsg.ToolCalls) == 0 {
			finalResponse := llms.Response{}
			if err := copier.Copy(&finalResponse, &response); err != nil {
				return nil, &llms.GenerationError{Err: fmt.Errorf("failed to copy response: %w", err)}
			}
			return &finalResponse, nil
		}

		// After the first round the model decides on its own whether
		// more tools are needed.
		toolChoice = utils.Ptr("auto")

		for _, tCall := range assistantMsg.ToolCalls {
			output, err := executeTool(ctx, options.Tools, tCall)
			if err != nil {
				logger.WarnContext(ctx, "Tool execution failed",
					"tool", tCall.Function.Name, "error", err)
				output = fmt.Sprintf("tool execution failed: %v", err)
			}
			messages = append(messages, message{
				Role:       messageRoleTool,
				ToolCallID: tCall.ID,
				Content:    output,
			})
			for i := range response.ToolCalls {
				if response.ToolCalls[i].ID == tCall.ID {
					response.ToolCalls[i].Response = output
				}
			}
		}
	}
}

func (c *Client) complete(ctx context.Context, reqBody requestBody) (*responseBody, error) {
	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &llms.GenerationError{Err: fmt.Errorf("error marshalling JSON: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, &llms.GenerationError{Err: fmt.Errorf("error creating HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &llms.GenerationError{Err: fmt.Errorf("error sending request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &llms.GenerationError{
			StatusCode: resp.StatusCode,
			Message:    string(detail),
		}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llms.GenerationError{Err: fmt.Errorf("error reading response body: %w", err)}
	}

	var completion responseBody
	if err := json.Unmarshal(bodyBytes, &completion); err != nil {
		return nil, &llms.GenerationError{Err: fmt.Errorf("error unmarshalling response body: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return nil, &llms.GenerationError{Message: "response contained no choices"}
	}

	return &completion, nil
}

func executeTool(ctx context.Context, tools []llms.Tool, tCall toolCall) (string, error) {
	for _, t := range tools {
		if t.Name == tCall.Function.Name {
			return t.Execute(ctx, tCall.Function.Arguments)
		}
	}
	return "", fmt.Errorf("unknown tool %q", tCall.Function.Name)
}

type requestBody struct {
	Model      string    `json:"model"`
	Messages   []message `json:"messages"`
	ToolChoice *string   `json:"tool_choice,omitempty"`
	Tools      []tool    `json:"tools,omitempty"`
}

type responseBody struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}
