package core

import (
	"context"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

// SamplingConfig carries the generation knobs understood by the LLM
// backends. A nil field is unset and falls back to the next layer, so an
// explicit zero (greedy temperature, say) survives merging.
type SamplingConfig struct {
	MaxLength         *int     `json:"max_length,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
}

func (c *SamplingConfig) SetMaxLength(v int)             { c.MaxLength = &v }
func (c *SamplingConfig) SetTemperature(v float64)       { c.Temperature = &v }
func (c *SamplingConfig) SetTopK(v int)                  { c.TopK = &v }
func (c *SamplingConfig) SetTopP(v float64)              { c.TopP = &v }
func (c *SamplingConfig) SetRepetitionPenalty(v float64) { c.RepetitionPenalty = &v }

func DefaultSampling() SamplingConfig {
	var c SamplingConfig
	c.SetMaxLength(500)
	c.SetTemperature(0.7)
	c.SetTopK(50)
	c.SetTopP(0.9)
	c.SetRepetitionPenalty(1.1)
	return c
}

// Merge returns c with every unset field taken from base.
func (c SamplingConfig) Merge(base SamplingConfig) SamplingConfig {
	if c.MaxLength == nil {
		c.MaxLength = base.MaxLength
	}
	if c.Temperature == nil {
		c.Temperature = base.Temperature
	}
	if c.TopK == nil {
		c.TopK = base.TopK
	}
	if c.TopP == nil {
		c.TopP = base.TopP
	}
	if c.RepetitionPenalty == nil {
		c.RepetitionPenalty = base.RepetitionPenalty
	}
	return c
}

// WithDefaults fills unset fields from DefaultSampling. Every field of the
// result is non-nil.
func (c SamplingConfig) WithDefaults() SamplingConfig {
	return c.Merge(DefaultSampling())
}

// LLMProvider continues a conversation and returns the assistant's answer.
type LLMProvider interface {
	Generate(ctx context.Context, turns []models.Turn, cfg SamplingConfig) (string, error)
}

// DocumentExtractor turns an uploaded binary document into plain text.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
