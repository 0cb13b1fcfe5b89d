package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/config"
	"github.com/lendloop/realtime/internal/database"
	"github.com/lendloop/realtime/internal/types"
	"go.uber.org/zap"
)

// realtimeMode is a websocket transport mounted on the HTTP app. The
// authenticated router and the anonymous lobby both satisfy it.
type realtimeMode interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Router is the authenticated realtime mode. Conversations created over
// HTTP are announced through it.
type Router interface {
	realtimeMode
	NotifyNewConversation(sender types.User, recipientId string, conv types.Conversation) int
}

type App struct {
	log      *zap.Logger
	db       database.Repository
	router   Router
	lobby    realtimeMode
	verifier auth.Verifier
	validate *validator.Validate
	srv      *http.Server
}

func NewApp(mux *http.ServeMux, logger *zap.Logger, router Router, lobby realtimeMode,
	db database.Repository, verifier auth.Verifier, cfg *config.Config) *App {
	s := &App{
		log:      logger.Named("api"),
		db:       db,
		router:   router,
		lobby:    lobby,
		verifier: verifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("GET /api/conversations/{id}", s.authMiddleware(s.getConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/conversations/{id}/read", s.authMiddleware(s.markRead))
	if router != nil {
		mux.Handle("GET /ws", s.authMiddleware(router.ServeWS))
	}
	if lobby != nil {
		mux.HandleFunc("GET /ws/lobby", lobby.ServeWS)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
