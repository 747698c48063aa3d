package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("name is required"), KindValidation},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("Job not found")), KindNotFound},
		{"remote", Remote(503, "busy"), KindRemote},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestPublicMessageHidesInternalDetail(t *testing.T) {
	err := Storage("Failed to save job", errors.New("open /srv/data/users/x/job.json: permission denied"))

	assert.Equal(t, "Failed to save job", PublicMessage(err))
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("/etc/passwd")))
}

func TestRemoteCarriesStatus(t *testing.T) {
	var appErr *Error
	err := fmt.Errorf("complete: %w", Remote(502, "bad gateway"))

	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, 502, appErr.StatusCode)
	assert.True(t, Is(err, KindRemote))
	assert.False(t, Is(nil, KindRemote))
}
