package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	middleware "github.com/RPLaine/newsroom-processor/internal/api/middlewares"
	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
	"github.com/RPLaine/newsroom-processor/internal/models"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	users  *services.UserService
	secret string
	log    *zap.Logger
}

func NewAuthHandler(users *services.UserService, secret string, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, secret: secret, log: log}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("Invalid request body"))
		return
	}

	user, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("user registered", zap.String("user_id", user.ID))
	h.respondWithToken(w, http.StatusCreated, "User registered", user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("Invalid request body"))
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.respondWithToken(w, http.StatusOK, "Logged in", user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, message string, user *models.User) {
	token, err := middleware.IssueToken(h.secret, user.ID, tokenTTL)
	if err != nil {
		h.log.Error("failed to sign token", zap.Error(err))
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, status, dispatcher.Response{
		Status:  dispatcher.StatusSuccess,
		Message: message,
		Data: map[string]string{
			"token":    token,
			"user_id":  user.ID,
			"username": user.Username,
		},
	})
}
