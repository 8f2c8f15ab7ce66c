package app

import (
	"sync"

	"brainforces/internal/domain"
)

// StandingsHub fans standings snapshots out to in-process subscribers
// (websocket connections).
type StandingsHub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan []domain.StandingsRow]struct{}
}

func NewStandingsHub() *StandingsHub {
	return &StandingsHub{subs: make(map[int64]map[chan []domain.StandingsRow]struct{})}
}

// Subscribe registers a listener for one quiz. The cancel function is safe to
// call more than once.
func (h *StandingsHub) Subscribe(quizID int64) (<-chan []domain.StandingsRow, func()) {
	ch := make(chan []domain.StandingsRow, 8)

	h.mu.Lock()
	if h.subs[quizID] == nil {
		h.subs[quizID] = make(map[chan []domain.StandingsRow]struct{})
	}
	h.subs[quizID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[quizID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, quizID)
			}
		}
	}
	return ch, cancel
}

// HasSubscribers reports whether anyone is watching the quiz.
func (h *StandingsHub) HasSubscribers(quizID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[quizID]) > 0
}

// Broadcast sends the snapshot to every subscriber; stale undelivered
// snapshots are dropped so slow clients cannot block the sender.
func (h *StandingsHub) Broadcast(quizID int64, rows []domain.StandingsRow) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[quizID] {
		select {
		case ch <- rows:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- rows:
			default:
			}
		}
	}
}
