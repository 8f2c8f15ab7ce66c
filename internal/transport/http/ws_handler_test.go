package http

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brainforces/internal/domain"
)

func TestWebSocketStandingsStream(t *testing.T) {
	f := newFixture(t)
	wsHandler := NewWSHandler(f.service, nil)

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/ws/standings", wsHandler.ServeStandings)
	server := httptest.NewServer(serveMux)
	defer server.Close()

	if rec := f.do(t, http.MethodPost, f.quizPath("/register"), f.userID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("register status %d", rec.Code)
	}

	u := "ws" + server.URL[len("http"):] + "/ws/standings?quizId=" +
		strconv.FormatInt(f.quizID, 10) + "&userId=" + strconv.FormatInt(f.userID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The initial snapshot arrives right after subscribing.
	rows := readStandings(conn, t)
	if len(rows) != 1 || rows[0].Solved != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", rows)
	}

	// A scoring answer pushes an update.
	answerPath := f.quizPath("/questions/" + strconv.FormatInt(f.qID, 10) + "/answer")
	if rec := f.do(t, http.MethodPost, answerPath, f.userID,
		`{"variantId":`+strconv.FormatInt(f.right, 10)+`}`); rec.Code != http.StatusOK {
		t.Fatalf("answer status %d: %s", rec.Code, rec.Body.String())
	}
	rows = readStandings(conn, t)
	if len(rows) != 1 || rows[0].Solved != 1 {
		t.Fatalf("expected updated snapshot, got %+v", rows)
	}
}

func TestWebSocketRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	wsHandler := NewWSHandler(f.service, nil)
	outsider := f.store.SeedUser("lurker", 1000)

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/ws/standings", wsHandler.ServeStandings)
	server := httptest.NewServer(serveMux)
	defer server.Close()

	// Not registered and the quiz is running: participation denied, no upgrade.
	u := "ws" + server.URL[len("http"):] + "/ws/standings?quizId=" +
		strconv.FormatInt(f.quizID, 10) + "&userId=" + strconv.FormatInt(outsider, 10)
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func readStandings(conn *websocket.Conn, t *testing.T) []domain.StandingsRow {
	t.Helper()
	var msg standingsMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "standings" {
		t.Fatalf("expected standings message, got %s", msg.Type)
	}
	return msg.Payload
}
