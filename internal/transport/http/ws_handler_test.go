package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	stores := app.NewMemoryStores()
	loader := memory.NewStaticQuizLoader()
	loader.Add(domain.Quiz{
		QuizID:        "quiz-0",
		Title:         "Capitals",
		Question:      "Capital of France?",
		Type:          domain.QuizMultipleChoice,
		Choices:       []string{"Paris", "Lyon", "Rome"},
		CorrectAnswer: "Paris",
		Genre:         "geography",
		ClassType:     domain.ClassOfficial,
	})
	quizzes := memory.NewQuizRepository(loader, time.Minute)

	membership := app.NewMembershipManager(stores, 0)
	registry := app.NewRoomRegistry(stores, membership, 0)
	turns := app.NewTurnCoordinator(stores, quizzes, app.RetrySameAnswerer)
	switcher := app.NewSwitchCoordinator(stores, membership, registry, app.NewMemoryPendingStore())
	finalizer := app.NewStatsFinalizer(stores, nil)
	authoring := app.NewQuizAuthoring(noopSaver{})
	return NewGateway(stores, membership, registry, turns, switcher, finalizer, authoring)
}

type noopSaver struct{}

func (noopSaver) SaveQuiz(_ context.Context, _ domain.Quiz) error { return nil }

func dialWS(t *testing.T, server *httptest.Server, userID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil consumes messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 32; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		if msg.Type == "error" {
			t.Fatalf("error while waiting for %s: %v", want, msg.Payload)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("gave up waiting for %s", want)
	return nil
}

func TestWebSocketCreatePlayAndFinish(t *testing.T) {
	gateway := newTestGateway(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialWS(t, server, "u1", "Alice")
	defer conn.Close()

	send(t, conn, "createRoom", createRoomPayload{Name: "mine", Genre: "geography", ClassType: domain.ClassOfficial})
	nav := readUntil(t, conn, "navigate")
	roomID, _ := nav["roomId"].(string)
	if roomID == "" {
		t.Fatalf("navigate payload = %v, want a room id", nav)
	}
	room := readUntil(t, conn, "room")
	if room["status"] != string(domain.RoomWaiting) {
		t.Fatalf("room status = %v, want waiting", room["status"])
	}

	send(t, conn, "startQuiz", struct{}{})
	for {
		room = readUntil(t, conn, "room")
		if room["status"] == string(domain.RoomInProgress) {
			break
		}
	}

	send(t, conn, "claimAnswerRight", claimPayload{QuizIndex: 0})
	send(t, conn, "submitAnswer", submitPayload{Answer: "Paris"})
	result := readUntil(t, conn, "answerResult")
	if result["correct"] != true {
		t.Fatalf("answerResult = %v, want correct", result)
	}

	send(t, conn, "nextQuestion", struct{}{})
	for {
		room = readUntil(t, conn, "room")
		if room["status"] == string(domain.RoomCompleted) {
			break
		}
	}
}

func TestWebSocketListRooms(t *testing.T) {
	gateway := newTestGateway(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	creator := dialWS(t, server, "u1", "Alice")
	defer creator.Close()
	send(t, creator, "createRoom", createRoomPayload{Name: "open", Genre: "geography", ClassType: domain.ClassOfficial})
	readUntil(t, creator, "room")

	observer := dialWS(t, server, "u2", "Bob")
	defer observer.Close()
	send(t, observer, "listRooms", listRoomsPayload{Genre: "geography", ClassType: domain.ClassOfficial})
	payloadless := readUntilList(t, observer, "roomList")
	if len(payloadless) != 1 {
		t.Fatalf("roomList = %v, want one open room", payloadless)
	}
}

func TestWebSocketCreateAndFindOrCreateDiffer(t *testing.T) {
	gateway := newTestGateway(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	host := dialWS(t, server, "host", "Host")
	defer host.Close()
	send(t, host, "createRoom", createRoomPayload{Name: "open", Genre: "geography", ClassType: domain.ClassOfficial})
	nav := readUntil(t, host, "navigate")
	hostRoom, _ := nav["roomId"].(string)

	// An explicit create must yield a fresh room even though an open match exists.
	creator := dialWS(t, server, "creator", "Creator")
	defer creator.Close()
	send(t, creator, "createRoom", createRoomPayload{Name: "own", Genre: "geography", ClassType: domain.ClassOfficial})
	nav = readUntil(t, creator, "navigate")
	if nav["roomId"] == hostRoom {
		t.Fatalf("createRoom merged into existing room %s", hostRoom)
	}
	room := readUntil(t, creator, "room")
	if room["roomLeaderId"] != "creator" {
		t.Fatalf("creator not leading their own room: %v", room["roomLeaderId"])
	}

	// Matchmaking lands in the oldest open room.
	joiner := dialWS(t, server, "joiner", "Joiner")
	defer joiner.Close()
	send(t, joiner, "findOrCreate", createRoomPayload{Name: "any", Genre: "geography", ClassType: domain.ClassOfficial})
	nav = readUntil(t, joiner, "navigate")
	if nav["roomId"] != hostRoom {
		t.Fatalf("findOrCreate landed in %v, want oldest open room %s", nav["roomId"], hostRoom)
	}
}

func TestWebSocketSwitchPromptAndConfirm(t *testing.T) {
	gateway := newTestGateway(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	host := dialWS(t, server, "host", "Host")
	defer host.Close()
	send(t, host, "createRoom", createRoomPayload{Name: "target", Genre: "geography", ClassType: domain.ClassOfficial})
	nav := readUntil(t, host, "navigate")
	targetRoom, _ := nav["roomId"].(string)

	mover := dialWS(t, server, "mover", "Mover")
	defer mover.Close()
	send(t, mover, "createRoom", createRoomPayload{Name: "origin", Genre: "history", ClassType: domain.ClassOfficial})
	readUntil(t, mover, "room")

	send(t, mover, "joinRoom", joinRoomPayload{RoomID: targetRoom})
	prompt := readUntil(t, mover, "switchPrompt")
	if prompt["targetRoomId"] != targetRoom {
		t.Fatalf("switchPrompt = %v, want target %s", prompt, targetRoom)
	}

	send(t, mover, "confirmSwitch", struct{}{})
	nav = readUntil(t, mover, "navigate")
	if nav["roomId"] != targetRoom {
		t.Fatalf("confirm navigated to %v, want %s", nav["roomId"], targetRoom)
	}
	room := readUntil(t, mover, "room")
	participants, _ := room["participants"].(map[string]any)
	if _, ok := participants["mover"]; !ok {
		t.Fatalf("mover missing from target room: %v", room["participants"])
	}
}

func TestSessionPushDeliversBeyondBufferCapacity(t *testing.T) {
	s := &session{
		userID: "u1",
		send:   make(chan outboundMessage[any], 2),
		done:   make(chan struct{}),
	}

	const total = 32
	received := make(chan outboundMessage[any], total)
	go func() {
		for msg := range s.send {
			time.Sleep(time.Millisecond) // slow consumer
			received <- msg
		}
		close(received)
	}()

	for i := 0; i < total; i++ {
		s.push("room", i)
	}
	close(s.send)

	i := 0
	for msg := range received {
		if msg.Payload != i {
			t.Fatalf("message %d arrived out of order: %v", i, msg.Payload)
		}
		i++
	}
	if i != total {
		t.Fatalf("delivered %d of %d messages", i, total)
	}
}

func TestSessionPushReturnsAfterShutdown(t *testing.T) {
	s := &session{
		userID: "u1",
		send:   make(chan outboundMessage[any]), // no reader
		done:   make(chan struct{}),
	}
	close(s.done)

	finished := make(chan struct{})
	go func() {
		s.push("room", "late")
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("push blocked after connection teardown")
	}
}

// readUntilList is readUntil for messages whose payload is a JSON array.
func readUntilList(t *testing.T, conn *websocket.Conn, want string) []any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 32; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		if msg.Type != want {
			continue
		}
		var list []any
		if err := json.Unmarshal(msg.Payload, &list); err != nil {
			t.Fatalf("decode %s payload: %v", want, err)
		}
		return list
	}
	t.Fatalf("gave up waiting for %s", want)
	return nil
}
