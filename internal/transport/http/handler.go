package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"brainforces/internal/app"
	"brainforces/internal/domain"
)

// Handler exposes the quiz run use cases over REST. Caller identity arrives
// as the X-User-ID header, set by the authenticating proxy upstream.
type Handler struct {
	service *app.QuizService
	log     *zap.Logger
}

func NewHandler(service *app.QuizService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, log: log}
}

// Register mounts all routes onto the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/quizzes/{id:[0-9]+}").Subrouter()
	api.HandleFunc("/phase", h.phase).Methods(http.MethodGet)
	api.HandleFunc("/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/questions", h.questions).Methods(http.MethodGet)
	api.HandleFunc("/questions/{qid:[0-9]+}/answer", h.answer).Methods(http.MethodPost)
	api.HandleFunc("/answers", h.answers).Methods(http.MethodGet)
	api.HandleFunc("/standings", h.standings).Methods(http.MethodGet)
	api.HandleFunc("/results", h.finalize).Methods(http.MethodPost)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) phase(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	phase, err := h.service.Phase(r.Context(), quizID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": phase.String()})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	if err := h.service.Register(r.Context(), quizID, userID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) questions(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	questions, err := h.service.Questions(r.Context(), quizID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

type answerRequest struct {
	VariantID int64 `json:"variantId"`
}

type answerResponse struct {
	Correct bool `json:"correct"`
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(mux.Vars(r)["qid"], 10, 64)
	if err != nil {
		http.Error(w, "invalid question id", http.StatusBadRequest)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	correct, err := h.service.SubmitAnswer(r.Context(), quizID, questionID, userID, req.VariantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Correct: correct})
}

func (h *Handler) answers(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	answers, err := h.service.UserAnswers(r.Context(), quizID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}

func (h *Handler) standings(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Standings(r.Context(), quizID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type finalizeResponse struct {
	PlacesAssigned int `json:"placesAssigned"`
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	quizID, userID, ok := h.identify(w, r)
	if !ok {
		return
	}
	places, err := h.service.Finalize(r.Context(), quizID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{PlacesAssigned: places})
}

// identify extracts the quiz id from the path and the user id from the
// X-User-ID header; on failure it writes the error response itself.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (quizID, userID int64, ok bool) {
	quizID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid quiz id", http.StatusBadRequest)
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "missing or invalid X-User-ID", http.StatusUnauthorized)
		return 0, 0, false
	}
	return quizID, userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeError(w, h.log, err)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidVariant):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyAnswered),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrRegistrationClosed):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
