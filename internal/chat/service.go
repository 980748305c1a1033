package chat

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/kaiwa-app/kaiwa/internal/ai"
	"github.com/kaiwa-app/kaiwa/internal/common"
)

// Service is the turn orchestrator. It owns the per-room protocols: room
// activation (setup) and the per-turn pipeline of persist -> broadcast ->
// compose -> complete -> parse -> persist -> broadcast.
type Service struct {
	repo      *Repo
	sessions  SessionStore
	publisher Publisher
	gateway   ai.Gateway
	model     string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	turns sync.WaitGroup
}

func NewService(repo *Repo, sessions SessionStore, publisher Publisher, gateway ai.Gateway, model string) *Service {
	return &Service{
		repo:      repo,
		sessions:  sessions,
		publisher: publisher,
		gateway:   gateway,
		model:     model,
		locks:     make(map[string]*sync.Mutex),
	}
}

// roomLock returns the serialization point for one room. Turns for different
// rooms run fully in parallel; turns for the same room take this lock so that
// at most one gateway call and one history mutation is in flight per room.
func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	return l
}

func (s *Service) CreateRoom(ctx context.Context, memberID uint64, category Category) (*Room, error) {
	if err := s.repo.MemberExists(ctx, memberID); err != nil {
		return nil, err
	}
	if _, ok := categoryTopics[category]; !ok {
		return nil, ErrInvalidCategory
	}

	roomID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	room := &Room{
		RoomID:   roomID,
		MemberID: memberID,
		Category: category,
	}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// RunSetup activates a room: the category template is sent alone to the
// gateway to obtain the opening assistant turn, which both primes the
// conversation and validates the template against the model. On success the
// setup and the raw opening payload are cached and the opening turn is
// persisted and broadcast. On a malformed reply the room is left without a
// usable setup and a diagnostic turn is broadcast.
func (s *Service) RunSetup(ctx context.Context, roomID string, category Category) (*Conversation, error) {
	room, err := s.repo.GetRoomByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, ok := categoryTopics[category]; !ok {
		return nil, ErrInvalidCategory
	}

	lock := s.roomLock(room.RoomID)
	lock.Lock()
	defer lock.Unlock()

	setup := NewSetup(category, s.model)
	raw, err := s.gateway.Complete(ctx, ai.Request{
		Model:        setup.Model,
		Messages:     setup.Messages,
		MaxTokens:    setup.MaxTokens,
		Temperature:  setup.Temperature,
		JSONResponse: setup.JSONResponse,
	})
	if err != nil {
		return nil, err
	}

	conv, err := ParseConversation(raw)
	if err != nil {
		s.publishParseFailure(ctx, room.RoomID)
		return nil, err
	}

	// Persist before publish.
	if err := s.repo.AppendHistory(ctx, &HistoryRecord{
		RoomID:  room.RoomID,
		Sender:  SenderBot,
		Content: conv.BotReply,
	}); err != nil {
		return nil, err
	}
	if err := s.sessions.PutSetup(ctx, room.RoomID, setup); err != nil {
		return nil, err
	}
	// The raw payload, not the parsed reply, goes into rolling history so the
	// model sees its own format on the next turn.
	if err := s.sessions.AppendHistory(ctx, room.RoomID, ai.Message{Role: "assistant", Content: raw}); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, room.RoomID, TurnEvent{
		Sender:     SenderBot,
		Source:     conv.BotReply,
		Translated: conv.BotReplyTranslated,
	}); err != nil {
		log.Printf("[chat] setup broadcast failed room=%s err=%v", room.RoomID, err)
	}
	return conv, nil
}

// SubmitUserTurn records and broadcasts the user's message, then completes
// the turn asynchronously. It returns once the user message is durably
// recorded and broadcast; the model round trip happens on a detached
// continuation that never reports back to the caller.
func (s *Service) SubmitUserTurn(ctx context.Context, memberID uint64, roomID string, text string) error {
	if err := s.repo.MemberExists(ctx, memberID); err != nil {
		return err
	}
	room, err := s.repo.GetRoomByRoomID(ctx, roomID)
	if err != nil {
		return err
	}

	lock := s.roomLock(room.RoomID)
	lock.Lock()

	if err := s.repo.AppendHistory(ctx, &HistoryRecord{
		RoomID:  room.RoomID,
		Sender:  SenderUser,
		Content: text,
	}); err != nil {
		lock.Unlock()
		return err
	}
	if err := s.sessions.AppendHistory(ctx, room.RoomID, ai.Message{Role: "user", Content: text}); err != nil {
		lock.Unlock()
		return err
	}
	if err := s.publisher.Publish(ctx, room.RoomID, TurnEvent{
		Sender: SenderUser,
		Source: text,
	}); err != nil {
		log.Printf("[chat] user broadcast failed room=%s err=%v", room.RoomID, err)
	}

	// The caller is released here; the continuation keeps the room lock until
	// the turn reaches a terminal state.
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer lock.Unlock()
		s.completeTurn(context.Background(), room.RoomID)
	}()
	return nil
}

// completeTurn is the detached tail of the per-turn protocol. Setup and
// history are snapshotted once at the start; cache expiry after the snapshot
// does not affect the turn. Gateway failures drop the turn silently, a
// malformed reply is converted into a diagnostic broadcast.
func (s *Service) completeTurn(ctx context.Context, roomID string) {
	setup, err := s.sessions.GetSetup(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrSetupNotFound) {
			log.Printf("[chat] turn aborted, no live setup room=%s", roomID)
		} else {
			log.Printf("[chat] turn aborted, session read failed room=%s err=%v", roomID, err)
		}
		return
	}
	history, err := s.sessions.GetHistory(ctx, roomID)
	if err != nil {
		log.Printf("[chat] turn aborted, history read failed room=%s err=%v", roomID, err)
		return
	}

	raw, err := s.gateway.Complete(ctx, ai.Request{
		Model:       setup.Model,
		Messages:    ComposePrompt(setup, history),
		MaxTokens:   turnMaxTokens,
		Temperature: setup.Temperature,
	})
	if err != nil {
		log.Printf("[chat] turn dropped, gateway failed room=%s err=%v", roomID, err)
		return
	}

	conv, err := ParseConversation(raw)
	if err != nil {
		log.Printf("[chat] turn failed, malformed reply room=%s err=%v", roomID, err)
		s.publishParseFailure(ctx, roomID)
		return
	}

	if err := s.sessions.AppendHistory(ctx, roomID, ai.Message{Role: "assistant", Content: raw}); err != nil {
		log.Printf("[chat] session append failed room=%s err=%v", roomID, err)
		return
	}
	if err := s.repo.AppendHistory(ctx, &HistoryRecord{
		RoomID:  roomID,
		Sender:  SenderBot,
		Content: conv.BotReply,
	}); err != nil {
		log.Printf("[chat] ledger append failed room=%s err=%v", roomID, err)
		return
	}
	if err := s.repo.AppendHistory(ctx, &HistoryRecord{
		RoomID:  roomID,
		Sender:  SenderSuggestedReply,
		Content: conv.SuggestedReply,
	}); err != nil {
		log.Printf("[chat] ledger append failed room=%s err=%v", roomID, err)
		return
	}

	// Bot reply strictly before the suggested reply.
	if err := s.publisher.Publish(ctx, roomID, TurnEvent{
		Sender:     SenderBot,
		Source:     conv.BotReply,
		Translated: conv.BotReplyTranslated,
	}); err != nil {
		log.Printf("[chat] bot broadcast failed room=%s err=%v", roomID, err)
	}
	if err := s.publisher.Publish(ctx, roomID, TurnEvent{
		Sender:     SenderSuggestedReply,
		Source:     conv.SuggestedReply,
		Translated: conv.SuggestedReplyTranslated,
	}); err != nil {
		log.Printf("[chat] suggested reply broadcast failed room=%s err=%v", roomID, err)
	}
}

func (s *Service) publishParseFailure(ctx context.Context, roomID string) {
	if err := s.publisher.Publish(ctx, roomID, TurnEvent{
		Sender:     SenderBot,
		Source:     parseFailureNotice,
		Translated: parseFailureNotice,
	}); err != nil {
		log.Printf("[chat] diagnostic broadcast failed room=%s err=%v", roomID, err)
	}
}

// ListHistory exposes the room's durable ledger in insertion order.
func (s *Service) ListHistory(ctx context.Context, roomID string) ([]HistoryRecord, error) {
	if _, err := s.repo.GetRoomByRoomID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, roomID)
}
