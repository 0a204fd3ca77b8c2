// Command transcript-watch is a terminal client for watching live call
// transcripts. It connects to the voice agent's observer endpoint,
// lets the user pick an open call, and renders the call's transcript
// as it happens.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/client", "Observer endpoint URL")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()

	program := tea.NewProgram(newModel(conn), tea.WithAltScreen())

	go readMessages(conn, program)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readMessages relays observer messages into the program until the
// connection drops.
func readMessages(conn *websocket.Conn, program *tea.Program) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			program.Send(disconnectedMsg{err: err})
			return
		}

		var envelope struct {
			Event  string   `json:"event"`
			Calls  []string `json:"calls"`
			CallID string   `json:"callId"`
			Error  string   `json:"error"`
			Type   string   `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Event {
		case "calls":
			program.Send(callListMsg{calls: envelope.Calls})
			continue
		case "callEnded":
			program.Send(callEndedMsg{callID: envelope.CallID})
			continue
		case "error":
			program.Send(disconnectedMsg{err: fmt.Errorf("%s", envelope.Error)})
			continue
		}

		if envelope.Type == "Results" {
			if segment, ok := decodeTranscriptSegment(raw); ok {
				program.Send(segment)
			}
		}
	}
}

// decodeTranscriptSegment pulls the display fields out of a raw
// transcription provider message.
func decodeTranscriptSegment(raw []byte) (transcriptMsg, bool) {
	var result struct {
		IsFinal bool `json:"is_final"`
		Channel struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channel"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return transcriptMsg{}, false
	}
	if len(result.Channel.Alternatives) == 0 {
		return transcriptMsg{}, false
	}

	text := strings.TrimSpace(result.Channel.Alternatives[0].Transcript)
	if text == "" {
		return transcriptMsg{}, false
	}
	return transcriptMsg{text: text, isFinal: result.IsFinal}, true
}
