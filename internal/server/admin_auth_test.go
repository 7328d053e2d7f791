package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/pkg/auth"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/logging"
)

func TestAdminAuthMiddleware(t *testing.T) {
	t.Run("admin routes absent without a signing secret", func(t *testing.T) {
		s, _ := newTestServer(t, testConfig())
		rec := do(t, s.Handler(), http.MethodPost, "/admin/cache/clear", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	validator, err := auth.NewJWTValidator(auth.JWTConfig{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "agentorch",
		TokenTTL: time.Hour,
	}, logging.NewNop(), nil)
	require.NoError(t, err)

	s, o := newTestServer(t, testConfig(), WithAuth(validator))
	adminToken, err := validator.GenerateToken("ops", auth.RoleAdmin)
	require.NoError(t, err)
	viewerToken, err := validator.GenerateToken("dashboard", "viewer")
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodPost, "/admin/cache/clear", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodPost, "/admin/cache/clear", "", "Authorization", "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without admin role", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodPost, "/admin/session/reset", "", "Authorization", "Bearer "+viewerToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin clears cache and resets session", func(t *testing.T) {
		_, err := o.Invoke(t.Context(), "check_market_conditions", capabilities.Args{})
		require.NoError(t, err)
		require.Equal(t, 1, o.Cache().Len())
		require.Equal(t, 1, o.Tracker().Size())

		rec := do(t, s.Handler(), http.MethodPost, "/admin/cache/clear", "", "Authorization", "Bearer "+adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode(t, rec)["entries_dropped"])
		assert.Equal(t, 0, o.Cache().Len())

		rec = do(t, s.Handler(), http.MethodPost, "/admin/session/reset", "", "Authorization", "Bearer "+adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode(t, rec)["records_dropped"])
		assert.Equal(t, 0, o.Tracker().Size())
	})

	t.Run("admin resets breakers", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodPost, "/admin/breakers/reset", "", "Authorization", "Bearer "+adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, o.Dispatcher().OpenBreakers())
	})
}
