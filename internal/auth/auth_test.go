package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "rollcall-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("user-1", "teacher", testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.ExpiresAt, 2*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "teacher", claims.Role)
}

func TestParseRejects(t *testing.T) {
	expired, err := Issue("user-1", "teacher", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	good, err := Issue("user-1", "teacher", testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{"expired", expired.AccessToken, testKey, testIssuer},
		{"wrong key", good.AccessToken, "other-key", testIssuer},
		{"wrong issuer", good.AccessToken, testKey, "someone-else"},
		{"garbage", "not-a-jwt", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/teacher", Bearer(testKey, testIssuer, "teacher"), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID())
	})

	teacher, err := Issue("t-1", "teacher", testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	student, err := Issue("s-1", "student", testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing", "", http.StatusUnauthorized, "Authorization token required"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "Authorization token required"},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "Invalid or expired token"},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden, "Insufficient permissions"},
		{"ok", "Bearer " + teacher.AccessToken, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teacher", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				assert.JSONEq(t, `{"success":false,"message":"`+tt.message+`"}`, rec.Body.String())
			} else {
				assert.Equal(t, "t-1", rec.Body.String())
			}
		})
	}
}
