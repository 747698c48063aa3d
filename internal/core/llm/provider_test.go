package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RPLaine/newsroom-processor/internal/config"
)

func TestSamplingFromConfig(t *testing.T) {
	s := SamplingFromConfig(&config.Config{
		LLMMaxLength:         0,
		LLMTemperature:       0,
		LLMTopK:              20,
		LLMTopP:              1.5,
		LLMRepetitionPenalty: 1.2,
	})

	assert.Nil(t, s.MaxLength)
	if assert.NotNil(t, s.Temperature) {
		assert.Zero(t, *s.Temperature)
	}
	assert.Equal(t, 20, *s.TopK)
	assert.Nil(t, s.TopP)
	assert.InDelta(t, 1.2, *s.RepetitionPenalty, 1e-9)
}
