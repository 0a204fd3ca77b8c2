package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/texttospeech"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultVoice   = "aura-2-thalia-en"

	speakPath = "/v1/speak"
)

type SynthesisClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	defaults []texttospeech.SynthesisOption
}

type ClientOption func(*SynthesisClient)

// WithBaseURL overrides the API endpoint. Intended for tests and
// self-hosted deployments.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *SynthesisClient) { c.baseURL = baseURL }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SynthesisClient) { c.httpClient = client }
}

func NewSynthesisClient(apiKey string, defaults []texttospeech.SynthesisOption, opts ...ClientOption) *SynthesisClient {
	client := &SynthesisClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		defaults: defaults,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Synthesize converts text into a single complete audio payload in the
// requested encoding. The payload carries no container framing and can
// be chunked for playback directly.
func (c *SynthesisClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	options := texttospeech.SynthesisOptions{
		EncodingInfo: audio.GetDefaultEncodingInfo(),
		Voice:        defaultVoice,
	}
	for _, opt := range c.defaults {
		opt(&options)
	}
	for _, opt := range opts {
		opt(&options)
	}

	requestURL, err := synthesisURL(c.baseURL, options)
	if err != nil {
		return nil, &texttospeech.SynthesisError{Err: err}
	}

	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, &texttospeech.SynthesisError{Err: fmt.Errorf("failed to encode request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, &texttospeech.SynthesisError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &texttospeech.SynthesisError{Err: fmt.Errorf("synthesis request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.WarnContext(ctx, "Synthesis request rejected",
			"status", resp.StatusCode, "detail", string(detail))
		return nil, &texttospeech.SynthesisError{
			StatusCode: resp.StatusCode,
			Message:    string(detail),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &texttospeech.SynthesisError{Err: fmt.Errorf("failed to read synthesized audio: %w", err)}
	}

	return payload, nil
}

func synthesisURL(baseURL string, options texttospeech.SynthesisOptions) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	parsed = parsed.JoinPath(speakPath)

	query := url.Values{}
	query.Set("model", options.Voice)
	query.Set("encoding", options.EncodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	query.Set("container", "none")
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
