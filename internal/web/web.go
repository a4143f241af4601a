package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fixturecal/internal/changelog"
	"fixturecal/internal/config"
	"fixturecal/internal/games"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/metrics"
	"fixturecal/internal/model"
	"fixturecal/internal/schedule"
	"fixturecal/internal/syncer"
	"fixturecal/internal/view"
)

// SyncRunner is the part of schedule.Runner the API triggers.
type SyncRunner interface {
	RunOnce(ctx context.Context) (schedule.Report, error)
	Last() (schedule.Report, bool)
}

// FeedSource serves a calendar as ICS. Only file-backed remotes have one.
type FeedSource interface {
	Feed(calendarID string) ([]byte, error)
}

// Server exposes the sync engine over HTTP.
type Server struct {
	cfg     *config.Config
	driver  *syncer.Driver
	runner  SyncRunner
	repo    games.Repository
	feeds   FeedSource
	metrics *metrics.Metrics
	log     *appLog.Logger

	router chi.Router
}

type Option func(*Server)

// WithFeeds enables GET /calendars/{id}.ics.
func WithFeeds(f FeedSource) Option { return func(s *Server) { s.feeds = f } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func WithLogger(l *appLog.Logger) Option { return func(s *Server) { s.log = l } }

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, driver *syncer.Driver, runner SyncRunner, repo games.Repository, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		driver: driver,
		runner: runner,
		repo:   repo,
		log:    appLog.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, behind basic auth when it is configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		s.log.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="fixturecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s.handle(r, http.MethodGet, "/health", s.handleHealth)
	s.handle(r, http.MethodGet, "/api/views", s.handleViews)
	s.handle(r, http.MethodGet, "/api/games", s.handleGames)
	s.handle(r, http.MethodPost, "/api/sync", s.handleSync)
	s.handle(r, http.MethodGet, "/api/sync/last", s.handleLastSync)
	s.handle(r, http.MethodPost, "/api/games/{gameID}/move", s.handleMove)
	s.handle(r, http.MethodPost, "/api/games/{gameID}/attend", s.handleAttend)
	if s.feeds != nil {
		s.handle(r, http.MethodGet, "/calendars/{calendarID:[A-Za-z0-9_-]+}.ics", s.handleCalendar)
	}
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	r.Method(method, pattern, s.metrics.WrapHandler(pattern, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// viewDTO is the JSON shape of a configured view.
type viewDTO struct {
	ID           string `json:"id"`
	CalendarID   string `json:"calendar_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Select       string `json:"select"`
	Project      string `json:"project"`
	Duration     string `json:"duration"`
	Transparency string `json:"transparency"`
	TitlePrefix  string `json:"title_prefix,omitempty"`
}

func toViewDTO(p view.Policy) viewDTO {
	return viewDTO{
		ID:           p.ID,
		CalendarID:   p.CalendarID,
		Title:        p.Title,
		Description:  p.Description,
		Select:       string(p.Selector),
		Project:      string(p.Projection),
		Duration:     p.Duration.String(),
		Transparency: string(p.Transparency.Normalize()),
		TitlePrefix:  p.TitlePrefix,
	}
}

func (s *Server) handleViews(w http.ResponseWriter, _ *http.Request) {
	views := s.driver.Views()
	out := make([]viewDTO, 0, len(views))
	for _, p := range views {
		out = append(out, toViewDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// gameDTO is the JSON shape of a game.
type gameDTO struct {
	ID            int64      `json:"id"`
	Competition   string     `json:"competition"`
	Location      string     `json:"location"`
	Opponents     string     `json:"opponents"`
	Season        int        `json:"season"`
	DatePlayed    time.Time  `json:"date_played"`
	TicketsOnSale *time.Time `json:"tickets_on_sale,omitempty"`
	Result        string     `json:"result,omitempty"`
	Attendance    int        `json:"attendance,omitempty"`
	MatchReport   string     `json:"match_report,omitempty"`
	Broadcaster   string     `json:"broadcaster,omitempty"`
	Attended      bool       `json:"attended"`
}

func toGameDTO(g model.Game) gameDTO {
	return gameDTO{
		ID:            g.ID,
		Competition:   g.Competition,
		Location:      string(g.Location),
		Opponents:     g.Opponents,
		Season:        g.Season,
		DatePlayed:    g.DatePlayed,
		TicketsOnSale: g.TicketsOnSale,
		Result:        g.Result,
		Attendance:    g.Attendance,
		MatchReport:   g.MatchReport,
		Broadcaster:   g.Broadcaster,
		Attended:      g.Attended,
	}
}

// handleGames lists games, optionally for one season.
//
// GET /api/games?season=2025
func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		gs  []model.Game
		err error
	)
	if raw := r.URL.Query().Get("season"); raw != "" {
		season, convErr := strconv.Atoi(raw)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "season must be a year")
			return
		}
		gs, err = s.repo.BySeason(ctx, season)
	} else {
		gs, err = s.repo.All(ctx)
	}
	if err != nil {
		s.log.Error("api games: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list games")
		return
	}

	out := make([]gameDTO, 0, len(gs))
	for _, g := range gs {
		out = append(out, toGameDTO(g))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSync runs a full sync and answers with its report. The run is not
// tied to the request, so a client hanging up does not cut it short.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	rep, err := s.runner.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, schedule.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil && len(rep.Failed) == 0:
		s.log.Error("api sync failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}

func (s *Server) handleLastSync(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.runner.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no sync has run yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type attendRequest struct {
	Attended bool `json:"attended"`
}

// changesResponse wraps the entries a single-game operation produced.
type changesResponse struct {
	GameID  int64          `json:"game_id"`
	Changes *changelog.Set `json:"changes"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	changes, err := s.driver.MoveEvent(r.Context(), id, req.From, req.To)
	if err != nil {
		s.writeOpError(w, "move", id, err)
		return
	}
	writeJSON(w, http.StatusOK, changesResponse{GameID: id, Changes: changes})
}

func (s *Server) handleAttend(w http.ResponseWriter, r *http.Request) {
	id, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var req attendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	att := s.cfg.Attendance
	if att.AttendedView == "" || att.UnattendedView == "" {
		writeError(w, http.StatusBadRequest, "attendance views are not configured")
		return
	}

	changes, err := s.driver.SetAttended(r.Context(), s.repo, id, req.Attended, att.AttendedView, att.UnattendedView)
	if err != nil {
		s.writeOpError(w, "attend", id, err)
		return
	}
	writeJSON(w, http.StatusOK, changesResponse{GameID: id, Changes: changes})
}

func (s *Server) writeOpError(w http.ResponseWriter, op string, gameID int64, err error) {
	switch {
	case errors.Is(err, syncer.ErrUnknownView), errors.Is(err, games.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncer.ErrNotMember):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("api "+op+" failed", err, "game_id", gameID)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// handleCalendar serves a published calendar for subscription.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	calendarID := chi.URLParam(r, "calendarID")
	known := false
	for _, p := range s.driver.Views() {
		if p.CalendarID == calendarID {
			known = true
			break
		}
	}
	if !known {
		http.NotFound(w, r)
		return
	}

	body, err := s.feeds.Feed(calendarID)
	if err != nil {
		s.log.Error("calendar feed failed", err, "calendar", calendarID)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
