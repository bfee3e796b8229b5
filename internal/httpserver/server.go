package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cataloghq/mailroom/internal/auth"
	"github.com/cataloghq/mailroom/internal/coordinator"
	"github.com/cataloghq/mailroom/internal/inventory"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/store"
)

type Server struct {
	coord    *coordinator.Coordinator
	inv      *inventory.Store
	st       store.Store
	verifier *auth.Verifier

	// baseline is the inventory captured at startup, used by the restore
	// endpoint between batches.
	baseline []models.InventoryRecord
}

func New(coord *coordinator.Coordinator, inv *inventory.Store, st store.Store, verifier *auth.Verifier) *Server {
	return &Server{
		coord:    coord,
		inv:      inv,
		st:       st,
		verifier: verifier,
		baseline: inv.Snapshot(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Post("/mailroom/emails", s.handleSubmitEmail)
		r.Get("/mailroom/runs/{id}", s.handleGetRun)
		r.Get("/mailroom/inventory/{id}", s.handleGetStock)
		r.Post("/mailroom/inventory/restore", s.handleRestoreInventory)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.st.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitEmailBody struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *Server) handleSubmitEmail(w http.ResponseWriter, r *http.Request) {
	var body submitEmailBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Body == "" && body.Subject == "" {
		respondError(w, http.StatusBadRequest, "subject or body required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}
	email := models.Email{
		ID:         body.ID,
		From:       body.From,
		Subject:    body.Subject,
		Body:       body.Body,
		ReceivedAt: time.Now().UTC(),
	}
	result, err := s.coord.Submit(r.Context(), email)
	if err != nil {
		// Classification failed: the run has nothing to respond to.
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"runId":       result.RunID,
			"stageErrors": result.StageErrors,
		})
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	result, ok := s.coord.GetRun(id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stock, err := s.inv.GetStock(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"productId":  id,
		"stockCount": stock,
	})
}

func (s *Server) handleRestoreInventory(w http.ResponseWriter, r *http.Request) {
	s.inv.Restore(s.baseline)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"restored": len(s.baseline),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
