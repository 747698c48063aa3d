package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureUser(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestJWTMiddlewareAttachesUser(t *testing.T) {
	token, err := IssueToken("s3cret", "user-1", time.Hour)
	require.NoError(t, err)

	var seen string
	req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	JWTMiddleware("s3cret")(captureUser(&seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", seen)
}

func TestJWTMiddlewareLeavesBadTokensAnonymous(t *testing.T) {
	wrongKey, err := IssueToken("other", "user-1", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken("s3cret", "user-1", -time.Minute)
	require.NoError(t, err)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"wrong key":  "Bearer " + wrongKey,
		"expired":    "Bearer " + expired,
		"alg none":   "Bearer " + unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			seen := "unset"
			req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			JWTMiddleware("s3cret")(captureUser(&seen)).ServeHTTP(httptest.NewRecorder(), req)
			assert.Empty(t, seen)
		})
	}
}

func TestRequireUser(t *testing.T) {
	var seen string
	h := RequireUser(captureUser(&seen))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"User not authenticated"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithUserID(req.Context(), "user-1")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", seen)
}
