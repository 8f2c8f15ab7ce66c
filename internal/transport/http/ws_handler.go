package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"brainforces/internal/app"
	"brainforces/internal/domain"
)

// WSHandler streams live standings over a websocket. The stream is
// read-only: answers go through the REST endpoint, subscribers just watch
// the board move.
type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(service *app.QuizService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type standingsMessage struct {
	Type    string                `json:"type"`
	Payload []domain.StandingsRow `json:"payload"`
}

// ServeStandings upgrades the request and pushes standings snapshots until
// the client disconnects. Access checks happen in Subscribe before the
// upgrade, so denied callers get a plain HTTP error.
func (h *WSHandler) ServeStandings(w http.ResponseWriter, r *http.Request) {
	quizID, err := strconv.ParseInt(r.URL.Query().Get("quizId"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid quizId", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), quizID, userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain reads so close frames and pings are processed; the first
		// read error means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rows, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(standingsMessage{Type: "standings", Payload: rows}); err != nil {
				h.log.Debug("ws write failed", zap.Int64("quiz", quizID), zap.Error(err))
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
