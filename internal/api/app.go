package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/maraffa-online/maraffa-server/internal/config"
	"github.com/maraffa-online/maraffa-server/internal/database"
	"github.com/maraffa-online/maraffa-server/internal/game"
	"github.com/maraffa-online/maraffa-server/internal/stats"
)

type MaraffaApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	gs             *game.GameServer
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string

	generateJoinCode func() (string, error)
}

func NewMaraffaApp(mux *http.ServeMux, logger *log.Logger, gs *game.GameServer, db database.Repository, st stats.StatsProvider, cfg *config.Config) *MaraffaApp {
	s := &MaraffaApp{
		log:              logger,
		db:               db,
		gs:               gs,
		stats:            st,
		signingKey:       cfg.SigningKey,
		allowedOrigins:   cfg.AllowedOrigins,
		generateJoinCode: shortid.Generate,
	}

	mux.HandleFunc("POST /auth/register", s.createAccount)
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("GET /auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /game/create", s.authMiddleware(s.createGame))
	mux.HandleFunc("GET /game/{id}", s.authMiddleware(s.getGame))
	mux.HandleFunc("POST /game/{id}/join", s.authMiddleware(s.joinGame))
	mux.HandleFunc("DELETE /game/{id}", s.authMiddleware(s.deleteGame))
	mux.HandleFunc("GET /game", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *MaraffaApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *MaraffaApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
