package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/core"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

const minPasswordLen = 6

type UserService struct {
	db core.DbClient
}

func NewUserService(db core.DbClient) *UserService {
	return &UserService{db: db}
}

// Register creates a user with a bcrypt password hash.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("A valid email is required")
	}
	if len(password) < minPasswordLen {
		return nil, apperr.Validation("Password must be at least 6 characters")
	}
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to register user", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().Unix(),
		Settings:     map[string]any{},
		Jobs:         []models.JobSummary{},
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks the credentials. Unknown email and wrong password
// produce the same error.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.db.GetUserByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.New(apperr.KindAuthRequired, "Invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.KindAuthRequired, "Invalid credentials")
	}
	return user, nil
}

// Resolve validates an authenticated user id and returns its profile,
// repairing a missing or unreadable profile on the way.
func (s *UserService) Resolve(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.AuthRequired()
	}
	user, err := s.db.EnsureUser(ctx, userID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.AuthRequired()
	}
	return user, err
}
