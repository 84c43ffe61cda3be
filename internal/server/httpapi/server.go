// Package httpapi is the HTTP boundary: the internal callback routes the
// delivery channel posts write jobs to, and a thin JSON REST surface over
// the services.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	address       string
	apiToken      string
	logger        logging.Logger
	receiver      *delivery.Receiver
	accounts      *services.AccountService
	personas      *services.PersonaService
	conversations *services.ConversationService
	messages      *services.MessageService
	checks        map[string]HealthCheck
}

// Services groups the business services behind the REST routes.
type Services struct {
	Accounts      *services.AccountService
	Personas      *services.PersonaService
	Conversations *services.ConversationService
	Messages      *services.MessageService
}

func NewServer(address, apiToken string, l logging.Logger, r *delivery.Receiver, svc Services, checks map[string]HealthCheck) *Server {
	return &Server{
		address:       address,
		apiToken:      apiToken,
		logger:        l.With("module", "http_server"),
		receiver:      r,
		accounts:      svc.Accounts,
		personas:      svc.Personas,
		conversations: svc.Conversations,
		messages:      svc.Messages,
		checks:        checks,
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+common.SyncPath, s.handleSync)
	mux.HandleFunc("POST "+common.BatchSyncPath, s.handleBatchSync)
	mux.HandleFunc("GET "+common.HealthPath, s.handleHealth)

	mux.HandleFunc("POST /api/v1/accounts", s.handleRegisterAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PATCH /api/v1/accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", s.handleDeleteAccount)
	mux.HandleFunc("GET /api/v1/accounts/by/{field}/{value}", s.handleGetAccountBy)
	mux.HandleFunc("POST /api/v1/accounts/{id}/invalidate", s.handleInvalidateAccount)

	mux.HandleFunc("POST /api/v1/personas", s.handleCreatePersona)
	mux.HandleFunc("GET /api/v1/personas/{id}", s.handleGetPersona)
	mux.HandleFunc("PATCH /api/v1/personas/{id}", s.handleUpdatePersona)
	mux.HandleFunc("DELETE /api/v1/personas/{id}", s.handleDeletePersona)

	mux.HandleFunc("POST /api/v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", s.handleAppendMessage)

	mux.HandleFunc("GET /api/v1/messages/{id}", s.handleGetMessage)
	mux.HandleFunc("PATCH /api/v1/messages/{id}", s.handleUpdateMessage)
	mux.HandleFunc("DELETE /api/v1/messages/{id}", s.handleDeleteMessage)

	return AuthMiddleware(s.apiToken, mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "health check failed", "dependency", name, "error", err)
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	overall := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":    overall,
		"checks":    status,
		"timestamp": time.Now().UTC(),
	})
}
