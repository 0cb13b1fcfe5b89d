package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/config"
	"github.com/lendloop/realtime/internal/database"
	"github.com/lendloop/realtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorHandler(t *testing.T) {
	tcases := []struct {
		name  string
		panic any
	}{
		{name: "panic with error", panic: assert.AnError},
		{name: "panic with string", panic: "boom"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			logger, logs := testutil.ObservedLogger()
			app := &App{log: logger}

			rr := httptest.NewRecorder()
			app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tc.panic)
			})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, "close", rr.Header().Get("Connection"))
			assert.Equal(t, 1, logs.FilterMessage("panic").Len())
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("mw-key"))
	valid, err := verifier.Issue(auth.Identity{UserId: "u1", DisplayName: "Ada"}, time.Minute)
	require.NoError(t, err)
	expired, err := verifier.Issue(auth.Identity{UserId: "u1"}, -time.Minute)
	require.NoError(t, err)

	tcases := []struct {
		name    string
		setup   func(r *http.Request)
		code    int
		reached bool
	}{
		{
			name:    "bearer token",
			setup:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			code:    http.StatusOK,
			reached: true,
		},
		{
			name:    "cookie token",
			setup:   func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.TokenCookieKey, Value: valid}) },
			code:    http.StatusOK,
			reached: true,
		},
		{
			name:  "no credential",
			setup: func(r *http.Request) {},
			code:  http.StatusUnauthorized,
		},
		{
			name:  "expired token",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			code:  http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &App{log: zap.NewNop(), verifier: verifier}

			var reached bool
			h := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				id, ok := auth.IdentityFromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, "u1", id.UserId)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			h(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.reached, reached)
			if tc.reached {
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	mockRepo := &database.MockRepository{}
	router := &mockRouter{}
	lobby := &mockRouter{}
	defer router.AssertExpectations(t)
	defer lobby.AssertExpectations(t)

	verifier := auth.NewJWTVerifier([]byte("routes-key"))
	token, err := verifier.Issue(auth.Identity{UserId: "u1"}, time.Minute)
	require.NoError(t, err)

	router.On("ServeWS", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(0).(http.ResponseWriter).WriteHeader(http.StatusTeapot)
	}).Once()
	lobby.On("ServeWS", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(0).(http.ResponseWriter).WriteHeader(http.StatusAccepted)
	}).Once()

	app := NewApp(http.NewServeMux(), zap.NewNop(), router, lobby, mockRepo, verifier,
		&config.Config{ServerAddr: ":0", AllowedOrigins: []string{"http://localhost:3000"}})

	// unauthenticated ws upgrade never reaches the router
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/lobby", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	app.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
