package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/doytsujin/optuna/internal/config"
	"github.com/doytsujin/optuna/internal/pruner"
	"github.com/doytsujin/optuna/internal/study"
)

// Server exposes study bookkeeping and the pruning decision over HTTP.
// Trial workers report intermediate values here and receive the advisory
// "prune now" verdict in the response; stopping their own execution is up
// to them.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	pruner  pruner.Pruner
	storage study.Storage

	// Study registry
	studies   map[string]*study.Study
	studiesMu sync.RWMutex // Protects the studies map
}

// NewServer creates a server instance over the given storage and pruner.
func NewServer(cfg *config.Config, logger *zap.Logger, storage study.Storage, p pruner.Pruner) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		pruner:  p,
		storage: storage,
		studies: make(map[string]*study.Study),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/studies", s.handleCreateStudy)
		r.Get("/studies/{study}/summary", s.handleSummary)
		r.Post("/studies/{study}/trials", s.handleCreateTrial)
		r.Post("/studies/{study}/trials/{id}/report", s.handleReport)
		r.Post("/studies/{study}/trials/{id}/finish", s.handleFinish)
	})
}

// getStudy looks up a registered study by name.
func (s *Server) getStudy(name string) (*study.Study, bool) {
	s.studiesMu.RLock()
	defer s.studiesMu.RUnlock()
	st, ok := s.studies[name]
	return st, ok
}

// handleCreateStudy registers a new study with the requested direction.
func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Name      string `json:"name"`
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reqBody.Name == "" {
		s.respondWithError(w, http.StatusBadRequest, "study name is required")
		return
	}

	direction, err := study.ParseDirection(reqBody.Direction)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.studiesMu.Lock()
	defer s.studiesMu.Unlock()

	if _, exists := s.studies[reqBody.Name]; exists {
		s.respondWithError(w, http.StatusConflict, "study already exists")
		return
	}
	s.studies[reqBody.Name] = study.New(reqBody.Name, direction, s.storage)

	s.logger.Info("study created",
		zap.String("study", reqBody.Name),
		zap.String("direction", string(direction)))

	s.respondWithJSON(w, http.StatusCreated, map[string]any{
		"study":     reqBody.Name,
		"direction": direction,
	})
}

// handleCreateTrial registers a new running trial under a study.
func (s *Server) handleCreateTrial(w http.ResponseWriter, r *http.Request) {
	st, ok := s.getStudy(chi.URLParam(r, "study"))
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "study not found")
		return
	}

	id, err := st.CreateTrial()
	if err != nil {
		s.logger.Error("failed to create trial",
			zap.String("study", st.Name()),
			zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to create trial")
		return
	}

	s.respondWithJSON(w, http.StatusCreated, map[string]any{
		"trial_id": id,
	})
}

// handleReport records an intermediate value for a trial and returns the
// pruning verdict for it. The pruner runs synchronously in the reporting
// request, which is the trial's own execution context.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	st, ok := s.getStudy(chi.URLParam(r, "study"))
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "study not found")
		return
	}

	trialID, ok := trialIDParam(r)
	if !ok {
		s.respondWithError(w, http.StatusBadRequest, "invalid trial id")
		return
	}

	var reqBody struct {
		Step  int      `json:"step"`
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reqBody.Value == nil {
		s.respondWithError(w, http.StatusBadRequest, "value is required")
		return
	}
	if reqBody.Step < 0 {
		s.respondWithError(w, http.StatusBadRequest, "step must be >= 0")
		return
	}

	if err := s.storage.ReportIntermediateValue(trialID, reqBody.Step, *reqBody.Value); err != nil {
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	trial, err := s.storage.GetTrial(trialID)
	if err != nil {
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	shouldPrune, err := s.pruner.Prune(st, trial)
	if err != nil {
		s.logger.Error("prune decision failed",
			zap.String("study", st.Name()),
			zap.Int("trial_id", trialID),
			zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "prune decision failed")
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"trial_id": trialID,
		"step":     reqBody.Step,
		"prune":    shouldPrune,
	})
}

// handleFinish moves a trial to a terminal state and records its final
// value when it completed.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.getStudy(chi.URLParam(r, "study")); !ok {
		s.respondWithError(w, http.StatusNotFound, "study not found")
		return
	}

	trialID, ok := trialIDParam(r)
	if !ok {
		s.respondWithError(w, http.StatusBadRequest, "invalid trial id")
		return
	}

	var reqBody struct {
		State string   `json:"state"`
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state := study.TrialState(reqBody.State)
	if !state.IsFinished() {
		s.respondWithError(w, http.StatusBadRequest, "state must be complete, pruned, or failed")
		return
	}
	if state == study.TrialComplete && reqBody.Value == nil {
		s.respondWithError(w, http.StatusBadRequest, "value is required for a complete trial")
		return
	}

	if reqBody.Value != nil {
		if err := s.storage.SetTrialFinalValue(trialID, *reqBody.Value); err != nil {
			s.respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	if err := s.storage.SetTrialState(trialID, state); err != nil {
		s.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"trial_id": trialID,
		"state":    state,
	})
}

// handleSummary returns aggregate value statistics for a study.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	st, ok := s.getStudy(chi.URLParam(r, "study"))
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "study not found")
		return
	}

	trials, err := st.Trials()
	if err != nil {
		s.logger.Error("failed to snapshot trials",
			zap.String("study", st.Name()),
			zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "failed to read trials")
		return
	}

	s.respondWithJSON(w, http.StatusOK, study.Summarize(trials, st.Direction()))
}

// trialIDParam parses the trial ID path parameter.
func trialIDParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id >= 0
}

// respondWithJSON writes a JSON response with the given status.
func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError writes a JSON error response.
func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	s.logger.Warn("request error",
		zap.Int("status", status),
		zap.String("message", message))
	s.respondWithJSON(w, status, map[string]any{
		"error": message,
	})
}
