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

func newSigner() *Signer { return NewSigner("test-signing-key", "school", time.Hour, 24*time.Hour) }

func TestIssueAndParse(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("gate-a", RoleStation)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := s.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "gate-a", claims.Subject)
	assert.Equal(t, RoleStation, claims.Role)

	_, err = s.Parse(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestParseRejects(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("gate-a", RoleStation)
	require.NoError(t, err)

	other := NewSigner("another-key-entirely", "school", time.Hour, time.Hour)
	_, err = other.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewSigner("test-signing-key", "elsewhere", time.Hour, time.Hour)
	_, err = wrongIssuer.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestRefresh(t *testing.T) {
	s := newSigner()
	pair, err := s.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	next, err := s.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	claims, err := s.Parse(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = s.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner()
	r := gin.New()
	r.GET("/any", Authenticate(s), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	r.GET("/admin", Authenticate(s), RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	station, err := s.Issue("gate-a", RoleStation)
	require.NoError(t, err)
	admin, err := s.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/any", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/any", "garbage").Code)
	w := do("/any", station.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gate-a", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do("/admin", station.AccessToken).Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", admin.AccessToken).Code)
}
