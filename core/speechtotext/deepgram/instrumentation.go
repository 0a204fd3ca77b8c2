package deepgram

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/rfolmedoa/ai-voice-agent-for-it-support/core/speechtotext/deepgram"

var logger = otelslog.NewLogger(scopeName)
