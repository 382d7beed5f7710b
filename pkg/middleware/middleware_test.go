package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
)

const testSecret = "test-secret"

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceID(), ErrorHandler(logger.Nop()))
	handlers = append(handlers, func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"sub": identity.Subject, "admin": identity.IsAdmin()})
	})
	r.GET("/", handlers...)
	return r
}

func do(t *testing.T, r http.Handler, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestAuthenticate_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "user-1", "buyer", time.Hour)
	require.NoError(t, err)

	w, body := do(t, newRouter(Authenticate(testSecret)), token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", body["sub"])
	assert.Equal(t, false, body["admin"])
	assert.NotEmpty(t, w.Header().Get(TraceIDHeader))
}

func TestAuthenticate_Rejects(t *testing.T) {
	expired, _ := IssueToken(testSecret, "user-1", "buyer", -time.Minute)
	wrongKey, _ := IssueToken("other-secret", "user-1", "buyer", time.Hour)
	noSubject, _ := IssueToken(testSecret, "", "buyer", time.Hour)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"no subject", noSubject},
		{"other algorithm", hs512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, newRouter(Authenticate(testSecret)), tt.token)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, errors.CodeUnauthorized, body["error"].(map[string]interface{})["code"])
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	admin, _ := IssueToken(testSecret, "admin-1", "ADMIN", time.Hour)
	buyer, _ := IssueToken(testSecret, "user-1", "buyer", time.Hour)
	r := newRouter(Authenticate(testSecret), RequireAdmin())

	w, body := do(t, r, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["admin"])

	w, _ = do(t, r, buyer)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClaimString_NumericSubject(t *testing.T) {
	assert.Equal(t, "42", claimString(float64(42)))
	assert.Equal(t, "abc", claimString(" abc "))
	assert.Equal(t, "", claimString(nil))
}

func TestErrorHandler_RecoversPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceID(), ErrorHandler(logger.Nop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-9", resp.TraceID)
}
