package llm

import (
	"encoding/json"
	"strings"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
)

// Bounds on the repair search. A 4 MiB answer would otherwise cost one
// full decode per dropped byte.
const (
	maxRepairInput    = 64 << 10
	maxRepairAttempts = 256
)

// ExtractJSON decodes a JSON value from model output into dst.
//
// Models often append commentary after a valid object, so when the text does
// not parse it is cut back to the last closing brace or bracket and decoding
// is retried, moving one closer further back each time. This is lossy: a
// shortened prefix can decode into a value that is valid JSON but not what
// the model meant, so callers must check the fields they rely on.
func ExtractJSON(text string, dst any) error {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return malformedJSON()
	}
	if json.Unmarshal([]byte(candidate), dst) == nil {
		return nil
	}

	if len(candidate) > maxRepairInput {
		candidate = candidate[:maxRepairInput]
	}
	for range maxRepairAttempts {
		end := strings.LastIndexAny(candidate, "}]")
		if end < 0 {
			break
		}
		if json.Unmarshal([]byte(candidate[:end+1]), dst) == nil {
			return nil
		}
		candidate = candidate[:end]
	}
	return malformedJSON()
}

func malformedJSON() error {
	return apperr.MalformedLLM("The model did not return valid JSON")
}
