package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	orchestration "github.com/rfolmedoa/ai-voice-agent-for-it-support/core"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/agents/support"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/llms/openai"
	sttdeepgram "github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext/deepgram"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/texttospeech"
	ttsdeepgram "github.com/rfolmedoa/ai-voice-agent-for-it-support/core/texttospeech/deepgram"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found", "error", err.Error())
	}

	addr := flag.String("addr", ":8080", "HTTP listen address")
	openaiModel := flag.String("openai-model", "gpt-4o-mini", "OpenAI model for response generation")
	voice := flag.String("voice", "", "TTS voice override")
	ticketURL := flag.String("ticket-url", "", "Ticketing endpoint URL (logs submissions locally when empty)")
	debounce := flag.Duration("debounce", time.Second, "Silence window before responding to an utterance")
	mixedTracks := flag.Bool("mixed-tracks", false, "Transcribe both call directions mixed together instead of only the caller")
	verifiedCallers := flag.String("verified-callers", os.Getenv("VERIFIED_CALLERS"),
		"Semicolon separated callers as 'First Last MM/DD/YYYY'")
	flag.Parse()

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if deepgramKey == "" || openaiKey == "" {
		slog.Error("DEEPGRAM_API_KEY and OPENAI_API_KEY are required")
		os.Exit(1)
	}

	callers, err := parseCallers(*verifiedCallers)
	if err != nil {
		slog.Error("Failed to parse verified callers", "error", err.Error())
		os.Exit(1)
	}

	transcription := sttdeepgram.NewTranscriptionClient(deepgramKey)

	var synthesisDefaults []texttospeech.SynthesisOption
	if *voice != "" {
		synthesisDefaults = append(synthesisDefaults, texttospeech.WithVoice(*voice))
	}
	synthesis := ttsdeepgram.NewSynthesisClient(deepgramKey, synthesisDefaults)

	llm := openai.NewClient(openaiKey, openai.WithModel(*openaiModel))

	agentOptions := []support.Option{support.WithKnownCallers(callers...)}
	if *ticketURL != "" {
		agentOptions = append(agentOptions, support.WithSubmitter(
			support.NewHTTPSubmitter(*ticketURL, os.Getenv("TICKET_API_KEY")),
		))
	}

	registry := orchestration.NewRegistry()

	sessionOptions := []orchestration.CallSessionOption{
		orchestration.WithSpeechToText(transcription),
		orchestration.WithSynthesizer(synthesis),
		orchestration.WithResponderFactory(func(callID string) orchestration.Responder {
			return support.NewAgent(llm, agentOptions...)
		}),
		orchestration.WithDebounceWindow(*debounce),
	}
	if *mixedTracks {
		sessionOptions = append(sessionOptions, orchestration.WithMixedTracks())
	}

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.New(registry, sessionOptions...).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err.Error())
		}
	}()

	slog.Info("Voice agent listening",
		"addr", *addr,
		"telephonyPath", server.TelephonyPath,
		"observerPath", server.ObserverPath)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err.Error())
		os.Exit(1)
	}
}

// parseCallers parses "First Last MM/DD/YYYY" entries separated by
// semicolons.
func parseCallers(raw string) ([]support.Identity, error) {
	var callers []support.Identity
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Fields(entry)
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid caller entry %q, want 'First Last MM/DD/YYYY'", entry)
		}

		dateParts := strings.Split(fields[2], "/")
		if len(dateParts) != 3 {
			return nil, fmt.Errorf("invalid birth date in %q, want MM/DD/YYYY", entry)
		}

		month, err := strconv.Atoi(dateParts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid birth month in %q: %w", entry, err)
		}
		day, err := strconv.Atoi(dateParts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid birth day in %q: %w", entry, err)
		}
		year, err := strconv.Atoi(dateParts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid birth year in %q: %w", entry, err)
		}

		callers = append(callers, support.Identity{
			FirstName:  fields[0],
			LastName:   fields[1],
			BirthMonth: month,
			BirthDay:   day,
			BirthYear:  year,
		})
	}
	return callers, nil
}
