package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kaiwa-app/kaiwa/internal/ai"
)

const turnReply = `{
  "conversation": {
    "bot_reply": "京都はいいですね。いつ行きますか？",
    "bot_reply_translated": "Kyoto is nice. When are you going?",
    "suggested_reply": "来週の金曜日に行きます。",
    "suggested_reply_translated": "I am going next Friday."
  }
}`

type fakeGateway struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []ai.Request
}

func (g *fakeGateway) Complete(ctx context.Context, req ai.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("fake gateway: no response queued")
	}
	resp := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return resp, nil
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) call(i int) ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

type recordedEvent struct {
	roomID string
	event  TurnEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, roomID string, event TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{roomID: roomID, event: event})
	return nil
}

func (p *recordingPublisher) snapshot() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedEvent(nil), p.events...)
}

// fakeSessions is an in-test session store; TTL behavior itself is covered by
// the memstore package tests.
type fakeSessions struct {
	mu      sync.Mutex
	setups  map[string]Setup
	history map[string][]ai.Message
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		setups:  make(map[string]Setup),
		history: make(map[string][]ai.Message),
	}
}

func (s *fakeSessions) PutSetup(ctx context.Context, roomID string, setup Setup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[roomID] = setup
	return nil
}

func (s *fakeSessions) GetSetup(ctx context.Context, roomID string) (Setup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setup, ok := s.setups[roomID]
	if !ok {
		return Setup{}, ErrSetupNotFound
	}
	return setup, nil
}

func (s *fakeSessions) AppendHistory(ctx context.Context, roomID string, msg ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[roomID] = append(s.history[roomID], msg)
	return nil
}

func (s *fakeSessions) GetHistory(ctx context.Context, roomID string) ([]ai.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Message(nil), s.history[roomID]...), nil
}

func newTestService(t *testing.T, responses ...string) (*Service, *fakeGateway, *recordingPublisher, *fakeSessions, uint64) {
	t.Helper()
	db := openTestDB(t)
	memberID := seedMember(t, db)

	gw := &fakeGateway{responses: responses}
	pub := &recordingPublisher{}
	sessions := newFakeSessions()
	svc := NewService(NewRepo(db), sessions, pub, gw, "gpt-3.5-turbo-1106")
	return svc, gw, pub, sessions, memberID
}

func mustCreateRoom(t *testing.T, svc *Service, memberID uint64, category Category) *Room {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), memberID, category)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func TestCreateRoom_UnknownMember(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	if _, err := svc.CreateRoom(context.Background(), 9999, CategoryTravel); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestRunSetup_PrimesRoom(t *testing.T) {
	svc, gw, pub, sessions, memberID := newTestService(t, wellFormedReply)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)

	conv, err := svc.RunSetup(context.Background(), room.RoomID, CategoryTravel)
	if err != nil {
		t.Fatalf("run setup: %v", err)
	}
	if conv.BotReply == "" {
		t.Fatalf("expected an opening turn, got %+v", conv)
	}

	// The setup call carries the system instructions alone.
	if gw.callCount() != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gw.callCount())
	}
	req := gw.call(0)
	if len(req.Messages) != 1 || req.Messages[0].Role != "system" {
		t.Fatalf("setup prompt should be system instructions only, got %+v", req.Messages)
	}
	if !req.JSONResponse {
		t.Fatalf("setup call must request a JSON response")
	}

	recs, err := svc.ListHistory(context.Background(), room.RoomID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(recs) != 1 || recs[0].Sender != SenderBot {
		t.Fatalf("expected exactly one BOT ledger record, got %+v", recs)
	}

	if _, err := sessions.GetSetup(context.Background(), room.RoomID); err != nil {
		t.Fatalf("setup should be cached: %v", err)
	}
	history, _ := sessions.GetHistory(context.Background(), room.RoomID)
	if len(history) != 1 || history[0].Role != "assistant" || history[0].Content != wellFormedReply {
		t.Fatalf("rolling history should hold the raw opening payload, got %+v", history)
	}

	events := pub.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(events))
	}
	if events[0].roomID != room.RoomID || events[0].event.Sender != SenderBot {
		t.Fatalf("unexpected broadcast: %+v", events[0])
	}
}

func TestRunSetup_MalformedReply(t *testing.T) {
	svc, _, pub, sessions, memberID := newTestService(t, "the model refuses to answer in JSON")
	room := mustCreateRoom(t, svc, memberID, CategoryRestaurant)

	if _, err := svc.RunSetup(context.Background(), room.RoomID, CategoryRestaurant); !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply, got %v", err)
	}

	// The room is left without a usable setup.
	if _, err := sessions.GetSetup(context.Background(), room.RoomID); !errors.Is(err, ErrSetupNotFound) {
		t.Fatalf("setup must not be cached after a failed setup, got %v", err)
	}
	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 0 {
		t.Fatalf("ledger must stay empty after a failed setup, got %+v", recs)
	}

	events := pub.snapshot()
	if len(events) != 1 || events[0].event.Source != parseFailureNotice {
		t.Fatalf("expected a single diagnostic broadcast, got %+v", events)
	}
}

func TestRunSetup_RoomNotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, wellFormedReply)
	if _, err := svc.RunSetup(context.Background(), "01NOSUCHROOM00000000000000", CategoryTravel); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSubmitUserTurn_FullTurn(t *testing.T) {
	svc, gw, pub, sessions, memberID := newTestService(t, wellFormedReply, turnReply)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)
	if _, err := svc.RunSetup(context.Background(), room.RoomID, CategoryTravel); err != nil {
		t.Fatalf("run setup: %v", err)
	}

	if err := svc.SubmitUserTurn(context.Background(), memberID, room.RoomID, "こんにちは"); err != nil {
		t.Fatalf("submit turn: %v", err)
	}

	// User message is durable and broadcast before the call returns.
	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 2 || recs[1].Sender != SenderUser || recs[1].Content != "こんにちは" {
		t.Fatalf("expected USER record immediately, got %+v", recs)
	}
	events := pub.snapshot()
	if len(events) != 2 || events[1].event.Sender != SenderUser {
		t.Fatalf("expected user broadcast immediately, got %+v", events)
	}

	svc.turns.Wait()

	// Turn prompt: system instructions, raw opening payload, user message.
	if gw.callCount() != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gw.callCount())
	}
	turnReq := gw.call(1)
	if len(turnReq.Messages) != 3 {
		t.Fatalf("expected 3 prompt messages, got %+v", turnReq.Messages)
	}
	last := turnReq.Messages[len(turnReq.Messages)-1]
	if last.Role != "user" || last.Content != "こんにちは" {
		t.Fatalf("newest user message must close the prompt, got %+v", last)
	}

	recs, _ = svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 4 {
		t.Fatalf("expected 4 ledger records, got %+v", recs)
	}
	if recs[2].Sender != SenderBot || recs[3].Sender != SenderSuggestedReply {
		t.Fatalf("expected BOT then SUGGESTED_REPLY, got %s then %s", recs[2].Sender, recs[3].Sender)
	}

	events = pub.snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 broadcasts, got %+v", events)
	}
	if events[2].event.Sender != SenderBot || events[3].event.Sender != SenderSuggestedReply {
		t.Fatalf("bot broadcast must precede suggested reply, got %+v", events[2:])
	}

	history, _ := sessions.GetHistory(context.Background(), room.RoomID)
	if len(history) != 3 || history[2].Role != "assistant" || history[2].Content != turnReply {
		t.Fatalf("rolling history should end with the raw turn payload, got %+v", history)
	}
}

func TestSubmitUserTurn_MalformedReply(t *testing.T) {
	svc, _, pub, sessions, memberID := newTestService(t, wellFormedReply, "```json not really```")
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)
	if _, err := svc.RunSetup(context.Background(), room.RoomID, CategoryTravel); err != nil {
		t.Fatalf("run setup: %v", err)
	}

	if err := svc.SubmitUserTurn(context.Background(), memberID, room.RoomID, "こんにちは"); err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	svc.turns.Wait()

	// Nothing persisted beyond the user turn.
	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 2 {
		t.Fatalf("expected only opening + user records, got %+v", recs)
	}
	history, _ := sessions.GetHistory(context.Background(), room.RoomID)
	if len(history) != 2 {
		t.Fatalf("rolling history must not grow on parse failure, got %+v", history)
	}

	events := pub.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected setup, user and one diagnostic broadcast, got %+v", events)
	}
	diag := events[2].event
	if diag.Sender != SenderBot || diag.Source != parseFailureNotice || diag.Translated != parseFailureNotice {
		t.Fatalf("unexpected diagnostic broadcast: %+v", diag)
	}
}

func TestSubmitUserTurn_NoLiveSetup(t *testing.T) {
	svc, gw, pub, _, memberID := newTestService(t)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)

	if err := svc.SubmitUserTurn(context.Background(), memberID, room.RoomID, "こんにちは"); err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	svc.turns.Wait()

	// The turn aborts before any gateway call.
	if gw.callCount() != 0 {
		t.Fatalf("expected no gateway calls, got %d", gw.callCount())
	}
	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 1 || recs[0].Sender != SenderUser {
		t.Fatalf("expected only the user record, got %+v", recs)
	}
	events := pub.snapshot()
	if len(events) != 1 || events[0].event.Sender != SenderUser {
		t.Fatalf("expected only the user broadcast, got %+v", events)
	}
}

func TestSubmitUserTurn_GatewayFailureDropsTurn(t *testing.T) {
	svc, gw, pub, _, memberID := newTestService(t, wellFormedReply)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)
	if _, err := svc.RunSetup(context.Background(), room.RoomID, CategoryTravel); err != nil {
		t.Fatalf("run setup: %v", err)
	}
	gw.setErr(errors.New("dial tcp: connection refused"))

	if err := svc.SubmitUserTurn(context.Background(), memberID, room.RoomID, "こんにちは"); err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	svc.turns.Wait()

	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 2 {
		t.Fatalf("expected only opening + user records, got %+v", recs)
	}
	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("gateway failure must not broadcast anything, got %+v", events)
	}
}

func TestSubmitUserTurn_Validation(t *testing.T) {
	svc, _, _, _, memberID := newTestService(t)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)

	if err := svc.SubmitUserTurn(context.Background(), 9999, room.RoomID, "hi"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
	if err := svc.SubmitUserTurn(context.Background(), memberID, "01NOSUCHROOM00000000000000", "hi"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSubmitUserTurn_SameRoomSerializes(t *testing.T) {
	svc, _, _, sessions, memberID := newTestService(t, wellFormedReply, turnReply)
	room := mustCreateRoom(t, svc, memberID, CategoryTravel)
	if _, err := svc.RunSetup(context.Background(), room.RoomID, CategoryTravel); err != nil {
		t.Fatalf("run setup: %v", err)
	}

	var wg sync.WaitGroup
	for _, text := range []string{"一つ目", "二つ目"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if err := svc.SubmitUserTurn(context.Background(), memberID, room.RoomID, text); err != nil {
				t.Errorf("submit turn %q: %v", text, err)
			}
		}(text)
	}
	wg.Wait()
	svc.turns.Wait()

	// Each turn completes before the next one touches the room: the ledger
	// groups USER, BOT, SUGGESTED_REPLY per turn with no interleaving.
	recs, _ := svc.ListHistory(context.Background(), room.RoomID)
	if len(recs) != 7 {
		t.Fatalf("expected 7 ledger records, got %d", len(recs))
	}
	wantSenders := []Sender{
		SenderBot,
		SenderUser, SenderBot, SenderSuggestedReply,
		SenderUser, SenderBot, SenderSuggestedReply,
	}
	for i, w := range wantSenders {
		if recs[i].Sender != w {
			t.Fatalf("record %d: got %s want %s (full: %+v)", i, recs[i].Sender, w, recs)
		}
	}

	// Rolling history alternates the same way.
	history, _ := sessions.GetHistory(context.Background(), room.RoomID)
	wantRoles := []string{"assistant", "user", "assistant", "user", "assistant"}
	if len(history) != len(wantRoles) {
		t.Fatalf("expected %d history entries, got %+v", len(wantRoles), history)
	}
	for i, role := range wantRoles {
		if history[i].Role != role {
			t.Fatalf("history %d: got role %s want %s", i, history[i].Role, role)
		}
	}
}
