package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// Gateway exposes the room protocol over a websocket per client.
type Gateway struct {
	stores     app.Stores
	membership *app.MembershipManager
	registry   *app.RoomRegistry
	turns      *app.TurnCoordinator
	switcher   *app.SwitchCoordinator
	finalizer  *app.StatsFinalizer
	authoring  *app.QuizAuthoring
	upgrader   websocket.Upgrader

	lobbyPoll time.Duration
}

func NewGateway(stores app.Stores, membership *app.MembershipManager, registry *app.RoomRegistry, turns *app.TurnCoordinator, switcher *app.SwitchCoordinator, finalizer *app.StatsFinalizer, authoring *app.QuizAuthoring) *Gateway {
	return &Gateway{
		stores:     stores,
		membership: membership,
		registry:   registry,
		turns:      turns,
		switcher:   switcher,
		finalizer:  finalizer,
		authoring:  authoring,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		lobbyPoll: 2 * time.Second,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type listRoomsPayload struct {
	Genre     string           `json:"genre"`
	ClassType domain.ClassType `json:"classType"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type createRoomPayload struct {
	Name      string           `json:"name"`
	Genre     string           `json:"genre"`
	ClassType domain.ClassType `json:"classType"`
	UnitID    string           `json:"unitId"`
}

type claimPayload struct {
	QuizIndex int `json:"quizIndex"`
}

type submitPayload struct {
	Answer string `json:"answer"`
}

type navigatePayload struct {
	// RoomID is empty when the client should return to the hub.
	RoomID string `json:"roomId,omitempty"`
}

type switchPromptPayload struct {
	FromRoomID     string `json:"fromRoomId"`
	FromRoomName   string `json:"fromRoomName,omitempty"`
	TargetRoomID   string `json:"targetRoomId"`
	TargetRoomName string `json:"targetRoomName,omitempty"`
}

type quizSavedPayload struct {
	QuizID string `json:"quizId"`
}

// session is the per-connection state. The reader loop owns everything except
// send, which the watcher and lobby goroutines also feed.
type session struct {
	userID   string
	username string
	iconID   int

	send      chan outboundMessage[any]
	done      chan struct{}
	watcher   *app.RoomWatcher
	lobbyStop func()
	watching  string
}

// ServeWS upgrades the request and runs the protocol until the client hangs up.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("name")
	if userID == "" || username == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}
	iconID, _ := strconv.Atoi(r.URL.Query().Get("icon"))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	s := &session{
		userID:   userID,
		username: username,
		iconID:   iconID,
		send:     make(chan outboundMessage[any], 16),
		done:     make(chan struct{}),
		watcher:  app.NewRoomWatcher(g.stores, g.turns, g.finalizer),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range s.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("user", userID).Msg("ws write error")
				return
			}
		}
	}()

	g.resume(ctx, s)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		g.dispatch(ctx, s, inbound)
	}

	s.watcher.Stop()
	if s.lobbyStop != nil {
		s.lobbyStop()
	}
	close(s.done)
	close(s.send)
	<-writerDone
}

// resume reattaches a reconnecting client: a stashed room creation completes
// first, otherwise the reconciled current room is rejoined.
func (g *Gateway) resume(ctx context.Context, s *session) {
	roomID, resumed, err := g.switcher.ResumePendingCreation(ctx, s.userID, s.username, s.iconID)
	if err != nil {
		s.sendError(err)
	}
	if resumed && roomID != "" {
		g.enterRoom(ctx, s, roomID)
		return
	}

	current, err := g.membership.ResolveCurrentRoom(ctx, s.userID)
	if err != nil {
		s.sendError(err)
		return
	}
	if current != "" {
		g.enterRoom(ctx, s, current)
	}
}

func (g *Gateway) dispatch(ctx context.Context, s *session, inbound inboundMessage) {
	switch inbound.Type {
	case "listRooms":
		var p listRoomsPayload
		if !s.decode(inbound.Payload, &p) {
			return
		}
		listings, err := g.registry.ListOpenRooms(ctx, p.Genre, p.ClassType)
		if err != nil {
			s.sendError(err)
			return
		}
		s.push("roomList", listings)

	case "watchLobby":
		var p listRoomsPayload
		if !s.decode(inbound.Payload, &p) {
			return
		}
		if s.lobbyStop != nil {
			s.lobbyStop()
		}
		s.lobbyStop = g.registry.SubscribeOpenRooms(p.Genre, p.ClassType, g.lobbyPoll, func(listings []domain.RoomListing) {
			s.push("roomList", listings)
		}, func(err error) {
			s.sendError(err)
		})

	case "unwatchLobby":
		if s.lobbyStop != nil {
			s.lobbyStop()
			s.lobbyStop = nil
		}

	case "joinRoom":
		var p joinRoomPayload
		if !s.decode(inbound.Payload, &p) {
			return
		}
		prompt, err := g.switcher.RequestJoin(ctx, s.userID, s.username, s.iconID, p.RoomID)
		if err != nil {
			s.sendError(err)
			return
		}
		if prompt != nil {
			s.push("switchPrompt", promptPayload(prompt))
			return
		}
		g.enterRoom(ctx, s, p.RoomID)

	case "createRoom":
		g.newRoom(ctx, s, inbound.Payload, g.switcher.RequestCreate)

	case "findOrCreate":
		g.newRoom(ctx, s, inbound.Payload, g.switcher.RequestMatchmake)

	case "confirmSwitch":
		roomID, err := g.switcher.Confirm(ctx, s.userID, s.username, s.iconID)
		if err != nil {
			s.sendError(err)
			return
		}
		if roomID == "" {
			// Pending creation: the client returns to the hub and reconnects,
			// where resume completes the stashed request.
			s.watcher.Stop()
			s.watching = ""
			s.push("navigate", navigatePayload{})
			return
		}
		g.enterRoom(ctx, s, roomID)

	case "cancelSwitch":
		g.switcher.Cancel(s.userID)

	case "leaveRoom":
		g.leaveRoom(ctx, s)

	case "startQuiz":
		if s.watching == "" {
			s.sendError(domain.ErrRoomNotFound)
			return
		}
		if err := g.turns.StartQuiz(ctx, s.watching, s.userID); err != nil {
			s.sendError(err)
		}

	case "claimAnswerRight":
		var p claimPayload
		if !s.decode(inbound.Payload, &p) {
			return
		}
		if s.watching == "" {
			s.sendError(domain.ErrRoomNotFound)
			return
		}
		if err := g.turns.ClaimAnswerRight(ctx, s.watching, s.userID, p.QuizIndex); err != nil {
			s.sendError(err)
		}

	case "submitAnswer":
		var p submitPayload
		if !s.decode(inbound.Payload, &p) {
			return
		}
		if s.watching == "" {
			s.sendError(domain.ErrRoomNotFound)
			return
		}
		outcome, err := g.turns.SubmitAnswer(ctx, s.watching, s.userID, p.Answer)
		if err != nil {
			s.sendError(err)
			return
		}
		s.push("answerResult", outcome)

	case "nextQuestion":
		g.nextQuestion(ctx, s)

	case "saveQuiz":
		var quiz domain.Quiz
		if !s.decode(inbound.Payload, &quiz) {
			return
		}
		quizID, err := g.authoring.SaveQuiz(ctx, quiz, s.userID)
		if err != nil {
			s.sendError(err)
			return
		}
		s.push("quizSaved", quizSavedPayload{QuizID: quizID})

	default:
		s.push("error", errorPayload{Message: "unsupported message type"})
	}
}

// newRoom runs either creation flavor: an outright create or a matchmake,
// both subject to the switch prompt when the user is attached elsewhere.
func (g *Gateway) newRoom(ctx context.Context, s *session, raw json.RawMessage, request func(context.Context, string, string, int, domain.PendingRoomCreation) (string, *app.PendingSwitch, error)) {
	var p createRoomPayload
	if !s.decode(raw, &p) {
		return
	}
	roomID, prompt, err := request(ctx, s.userID, s.username, s.iconID, domain.PendingRoomCreation{
		Name:      p.Name,
		Genre:     p.Genre,
		ClassType: p.ClassType,
		UnitID:    p.UnitID,
	})
	if err != nil {
		s.sendError(err)
		return
	}
	if prompt != nil {
		s.push("switchPrompt", promptPayload(prompt))
		return
	}
	g.enterRoom(ctx, s, roomID)
}

// enterRoom attaches the canonical room subscription and tells the client
// where it is. Every state the client renders comes through this one feed.
func (g *Gateway) enterRoom(ctx context.Context, s *session, roomID string) {
	s.watching = roomID
	s.push("navigate", navigatePayload{RoomID: roomID})
	s.watcher.Watch(ctx, roomID, s.userID, app.WatchHooks{
		OnRoom: func(room domain.Room) {
			s.push("room", room)
		},
		OnDeleted: func() {
			s.push("roomClosed", navigatePayload{})
		},
		OnError: func(err error) {
			s.sendError(err)
		},
	})
}

func (g *Gateway) leaveRoom(ctx context.Context, s *session) {
	roomID := s.watching
	if roomID == "" {
		return
	}
	s.watcher.Stop()
	s.watching = ""

	wasLeader := false
	if snap, err := g.stores.Rooms.Get(ctx, roomID); err == nil {
		wasLeader = snap.Data.IsLeader(s.userID)
	}
	if err := g.membership.LeaveRoom(ctx, roomID, s.userID, wasLeader); err != nil {
		s.sendError(err)
	}
	s.push("navigate", navigatePayload{})
}

// nextQuestion advances directly when the caller leads the room and raises
// the ready flag otherwise, leaving the advance to the leader's watcher.
func (g *Gateway) nextQuestion(ctx context.Context, s *session) {
	if s.watching == "" {
		s.sendError(domain.ErrRoomNotFound)
		return
	}
	isLeader := false
	if snap, err := g.stores.Rooms.Get(ctx, s.watching); err == nil {
		isLeader = snap.Data.IsLeader(s.userID)
	}
	var err error
	if isLeader {
		err = g.turns.AdvanceQuestion(ctx, s.watching, s.userID)
	} else {
		err = g.turns.RequestNextQuestion(ctx, s.watching, s.userID)
	}
	if err != nil {
		s.sendError(err)
	}
}

func promptPayload(prompt *app.PendingSwitch) switchPromptPayload {
	return switchPromptPayload{
		FromRoomID:     prompt.FromRoomID,
		FromRoomName:   prompt.FromRoomName,
		TargetRoomID:   prompt.TargetRoomID,
		TargetRoomName: prompt.TargetRoomName,
	}
}

func (s *session) decode(raw json.RawMessage, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		s.push("error", errorPayload{Message: "invalid payload"})
		return false
	}
	return true
}

// push blocks until the writer accepts the message or the connection winds
// down. Blocking rather than dropping keeps every room snapshot delivered in
// order; a slow client stalls only its own watcher callback.
func (s *session) push(msgType string, payload any) {
	defer func() {
		// The send channel closes when the reader loop exits; a watcher
		// delivery racing the teardown must not crash the process.
		_ = recover()
	}()
	select {
	case s.send <- outboundMessage[any]{Type: msgType, Payload: payload}:
	case <-s.done:
	}
}

func (s *session) sendError(err error) {
	s.push("error", errorPayload{Message: err.Error()})
}
