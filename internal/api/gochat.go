package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Engine is the session engine as seen by the HTTP surface.
type Engine interface {
	server.Engine
	CreateRoom(ctx context.Context, initiatorId, responderId string) (types.Room, bool, error)
	History(ctx context.Context, roomId string, count int) (types.Room, error)
	ListRooms(ctx context.Context, role types.Role, participantId string) ([]types.Room, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type GoChatApp struct {
	log            *slog.Logger
	engine         Engine
	store          Pinger
	mux            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
}

func NewGoChatApp(mux *http.ServeMux, logger *slog.Logger, cs *server.ChatServer, engine Engine, store Pinger, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		engine:         engine,
		store:          store,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/rooms", s.jsonBody(s.createRoom))
	mux.HandleFunc("GET /api/rooms", noStore(s.listRooms))
	mux.HandleFunc("GET /api/rooms/{roomId}", noStore(s.getRoom))
	mux.HandleFunc("POST /api/rooms/{roomId}/messages", s.jsonBody(s.appendMessage))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	if cfg.AccessLog {
		h = handlers.CombinedLoggingHandler(os.Stdout, h)
	}
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return s
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
