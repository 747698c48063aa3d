package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewUserService(newTestDB(t))
	ctx := context.Background()

	user, err := svc.Register(ctx, "", "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	got, err := svc.Authenticate(ctx, "ADA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindAuthRequired))
	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret1")
	assert.True(t, apperr.Is(err, apperr.KindAuthRequired))
}

func TestRegisterValidation(t *testing.T) {
	svc := NewUserService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.Register(ctx, "x", "not-an-email", "secret1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Register(ctx, "x", "x@example.com", "123")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Register(ctx, "x", "x@example.com", "secret1")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "y", "x@example.com", "secret2")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestResolve(t *testing.T) {
	svc := NewUserService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthRequired))
	_, err = svc.Resolve(ctx, "../../etc")
	assert.True(t, apperr.Is(err, apperr.KindAuthRequired))

	id := uuid.NewString()
	user, err := svc.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.NotNil(t, user.Jobs)
}
