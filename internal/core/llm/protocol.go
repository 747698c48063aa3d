package llm

import (
	"strings"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

// Turn markers of the chat text protocol spoken by the completion endpoint.
const (
	TurnStart = "<|im_start|>"
	TurnEnd   = "<|im_end|>"

	assistantStart = TurnStart + models.RoleAssistant
)

// EncodeTurns renders the conversation as marker-delimited text and leaves
// an open assistant turn for the model to continue.
func EncodeTurns(turns []models.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(TurnStart)
		b.WriteString(t.Role)
		b.WriteByte('\n')
		b.WriteString(t.Content)
		b.WriteString(TurnEnd)
		b.WriteByte('\n')
	}
	b.WriteString(assistantStart)
	b.WriteByte('\n')
	return b.String()
}

// ExtractAnswer returns the text of the last assistant turn in raw. Text
// after an end marker is dropped. Input without an assistant marker is
// returned trimmed.
//
// There is no way to tell a truncated answer from a finished one other than
// the presence of the end marker.
func ExtractAnswer(raw string) string {
	answer := raw
	if i := strings.LastIndex(raw, assistantStart); i >= 0 {
		answer = raw[i+len(assistantStart):]
	}
	if i := strings.Index(answer, TurnEnd); i >= 0 {
		answer = answer[:i]
	}
	return strings.TrimSpace(answer)
}
