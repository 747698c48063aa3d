package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

type createJobPayload struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	JobType     string `json:"job_type"`
}

type jobPayload struct {
	JobID string `json:"job_id" validate:"required"`
}

type continueJobPayload struct {
	JobID      string `json:"job_id" validate:"required"`
	UserPrompt string `json:"user_prompt" validate:"required"`
}

type searchWebPayload struct {
	JobID string `json:"job_id" validate:"required"`
	Query string `json:"query" validate:"required"`
}

type readRSSPayload struct {
	JobID  string `json:"job_id" validate:"required"`
	RSSURL string `json:"rss_url" validate:"required"`
}

type loadFilePayload struct {
	JobID       string `json:"job_id" validate:"required"`
	FileName    string `json:"file_name" validate:"required"`
	FileContent string `json:"file_content" validate:"required_without=FileData"`
	FileData    string `json:"file_data" validate:"omitempty,base64"`
	ContentType string `json:"content_type"`
}

type processDataPayload struct {
	JobID          string `json:"job_id" validate:"required"`
	ProcessingType string `json:"processing_type" validate:"required,oneof=prompt refine reflect"`
	Prompt         string `json:"prompt" validate:"required_if=ProcessingType prompt"`
}

type saveOutputPayload struct {
	JobID    string `json:"job_id" validate:"required"`
	FileName string `json:"file_name" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type startProcessPayload struct {
	StructureData *models.Structure `json:"structure_data" validate:"required"`
	AutoAdvance   bool              `json:"auto_advance"`
	IntervalMS    int64             `json:"interval_ms" validate:"gte=0"`
	GenerateFiles bool              `json:"generate_files"`
}

type processPayload struct {
	ProcessID string `json:"process_id" validate:"required"`
}

type chooseNextNodePayload struct {
	CurrentNode *models.Node   `json:"current_node" validate:"required"`
	Connections []candidateRef `json:"connections"`
	Nodes       []models.Node  `json:"nodes"`
	UseLLM      bool           `json:"use_llm"`
}

// candidateRef is one entry of choose_next_node's connections. Clients send
// either the candidate nodes themselves or edges that point at them.
type candidateRef struct {
	models.Node
	From   string `json:"from"`
	To     string `json:"to"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type executeNodePayload struct {
	ProcessID   string       `json:"process_id" validate:"required_without=StructureID"`
	StructureID string       `json:"structure_id"`
	CurrentNode *models.Node `json:"current_node" validate:"required_without=NodeID"`
	NodeID      string       `json:"node_id"`
}

type processFilePayload struct {
	ProcessID string `json:"process_id" validate:"required"`
	FileID    string `json:"file_id" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode unmarshals the request object into T and validates it.
func decode[T any](v *validator.Validate, raw json.RawMessage) (T, error) {
	var p T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, apperr.Wrap(apperr.KindValidation, "Malformed request payload", err)
		}
	}
	if err := v.Struct(p); err != nil {
		return p, validationError(err)
	}
	return p, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Wrap(apperr.KindValidation, "Invalid request", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return apperr.Validation(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is missing", field, jsonName(e.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(e.Param(), " ", ", "))
	case "base64":
		return fmt.Sprintf("%s must be base64 encoded", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// jsonName maps the Go field names used in cross-field tags to wire names.
func jsonName(goField string) string {
	switch goField {
	case "FileData":
		return "file_data"
	case "StructureID":
		return "structure_id"
	case "NodeID":
		return "node_id"
	default:
		return goField
	}
}
