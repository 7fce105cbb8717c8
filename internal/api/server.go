package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"beergame/internal/auth"
	"beergame/internal/config"
	"beergame/internal/events"
	"beergame/internal/game"
)

// InstructorHeader carries the shared instructor password.
const InstructorHeader = "X-Instructor-Password"

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	gate   *auth.InstructorGate
	game   *game.Service
	broker *events.Broker
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gate *auth.InstructorGate, gameSvc *game.Service, broker *events.Broker) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		gate:   gate,
		game:   gameSvc,
		broker: broker,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// The stream is long-lived and must not sit behind the request timeout.
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/settings", s.handleSettings)
			r.Get("/teams/{team}/history", s.handleHistory)
			r.Get("/teams/{team}/roles/{role}/latest", s.handleLatest)
			r.Post("/teams/{team}/roles/{role}/claim", s.handleClaim)
			r.Post("/teams/{team}/roles/{role}/orders", s.handleOrder)

			r.Route("/instructor", func(r chi.Router) {
				r.Use(s.instructorMiddleware)
				r.Get("/progress", s.handleProgress)
				r.Post("/demand", s.handleSetDemand)
				r.Post("/active", s.handleSetActive)
				r.Post("/teams/{team}/advance", s.handleAdvanceTeam)
				r.Post("/reset", s.handleReset)
			})
		})
	})
}

func (s *Server) instructorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		password := strings.TrimSpace(r.Header.Get(InstructorHeader))
		if password == "" {
			writeError(w, http.StatusUnauthorized, "missing instructor password")
			return
		}
		if err := s.gate.Check(password); err != nil {
			s.log.Warn("instructor password rejected", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.game.GetSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	team, role, ok := teamRole(w, r)
	if !ok {
		return
	}
	rec, err := s.game.GetLatest(r.Context(), team, role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.game.History(r.Context(), chi.URLParam(r, "team"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if since := queryInt(r, "since", 0); since > 0 {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Week >= since {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	team, role, ok := teamRole(w, r)
	if !ok {
		return
	}
	var in struct {
		Occupant string `json:"occupant"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.ClaimRole(r.Context(), team, role, in.Occupant); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := s.game.GetLatest(r.Context(), team, role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	team, role, ok := teamRole(w, r)
	if !ok {
		return
	}
	var in struct {
		Week   *int `json:"week"`
		Amount *int `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	var (
		res game.AdvanceResult
		err error
	)
	if in.Week == nil {
		res, err = s.game.PlaceOrder(r.Context(), team, role, *in.Amount)
	} else {
		res, err = s.game.SubmitAndAdvance(r.Context(), team, role, *in.Week, *in.Amount)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.game.Progress(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": progress})
}

func (s *Server) handleSetDemand(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Demand *int `json:"demand"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Demand == nil {
		writeError(w, http.StatusBadRequest, "demand is required")
		return
	}
	settings, err := s.game.SetDemand(r.Context(), *in.Demand)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		settings game.Settings
		err      error
	)
	if in.Active == nil {
		settings, err = s.game.ToggleActive(r.Context())
	} else {
		settings, err = s.game.SetActive(r.Context(), *in.Active)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleAdvanceTeam(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	var in struct {
		Week *int `json:"week"`
	}
	// An empty body advances the team's current week.
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		res game.AdvanceResult
		err error
	)
	if in.Week == nil {
		res, err = s.game.AdvanceTeam(r.Context(), team)
	} else {
		res, err = s.game.TryAdvance(r.Context(), team, *in.Week, true)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.game.ResetGame(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	settings, err := s.game.GetSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": settings})
}

func teamRole(w http.ResponseWriter, r *http.Request) (string, game.Role, bool) {
	role, err := game.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeDomainError(w, err)
		return "", 0, false
	}
	return chi.URLParam(r, "team"), role, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrAlreadySubmitted), errors.Is(err, game.ErrAlreadyTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrRoundClosed), errors.Is(err, game.ErrTxConflict), errors.Is(err, game.ErrShockLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrGameInactive):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, game.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
