package ingestion_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseLines(t *testing.T) {
	got := normaliseLines("  Title \n\n\n  body line one\t\n\nbody line two  \n")
	assert.Equal(t, "Title\nbody line one\nbody line two", got)
}
