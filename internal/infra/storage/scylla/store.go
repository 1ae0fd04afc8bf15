package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"estatedesk/internal/domain/conversation"
)

var (
	ErrSessionMissing = errors.New("scylla: session not initialized")
	ErrRoomNotFound   = errors.New("scylla: chat room not found")
)

const (
	defaultWatchInterval = 2 * time.Second
	snippetLimit         = 500
)

// ChangeFeed signals that a room received a new message.
type ChangeFeed interface {
	Publish(ctx context.Context, roomID string) error
	Watch(ctx context.Context, roomID string) (<-chan struct{}, error)
}

// Store is the Scylla-backed realtime chat store. Message subscriptions reload the
// room on every change feed signal, or on a fixed interval when no feed is set.
type Store struct {
	session       *gocql.Session
	logger        *slog.Logger
	Feed          ChangeFeed
	WatchInterval time.Duration
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

const roomColumns = `id, buyer_id, property_id, receiver_id, last_message, last_sender_role, created_at, updated_at, read_status, read_at`

type roomRow struct {
	id             gocql.UUID
	buyerID        string
	propertyID     string
	receiverID     string
	lastMessage    string
	lastSenderRole string
	createdAt      time.Time
	updatedAt      time.Time
	readStatus     map[string]string
	readAt         map[string]time.Time
}

func (r *roomRow) dest() []any {
	return []any{&r.id, &r.buyerID, &r.propertyID, &r.receiverID, &r.lastMessage, &r.lastSenderRole, &r.createdAt, &r.updatedAt, &r.readStatus, &r.readAt}
}

func (r roomRow) toDomain() conversation.Room {
	marks := make(map[string]conversation.ReadMark, len(r.readStatus))
	for userID, raw := range r.readStatus {
		status, err := conversation.ParseStatus(raw)
		if err != nil {
			continue
		}
		marks[userID] = conversation.ReadMark{Status: status, At: r.readAt[userID].UTC()}
	}
	return conversation.Room{
		ID:             r.id.String(),
		Key:            conversation.NewKey(r.buyerID, r.propertyID),
		ReceiverID:     r.receiverID,
		LastMessage:    r.lastMessage,
		LastSenderRole: conversation.ParseRole(r.lastSenderRole),
		CreatedAt:      r.createdAt.UTC(),
		UpdatedAt:      r.updatedAt.UTC(),
		ReadStatus:     marks,
	}
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]conversation.Room, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	iter := s.session.
		Query(`SELECT `+roomColumns+` FROM chat_rooms WHERE participants CONTAINS ? ALLOW FILTERING`, userID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		row   roomRow
		rooms []conversation.Room
	)
	for iter.Scan(row.dest()...) {
		rooms = append(rooms, row.toDomain())
		row = roomRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []conversation.Room{}
	}
	return rooms, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (conversation.Room, error) {
	if s.session == nil {
		return conversation.Room{}, ErrSessionMissing
	}
	id, err := parseRoomID(roomID)
	if err != nil {
		return conversation.Room{}, err
	}
	var row roomRow
	if err := s.session.
		Query(`SELECT `+roomColumns+` FROM chat_rooms WHERE id = ? LIMIT 1`, id).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(row.dest()...); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return conversation.Room{}, ErrRoomNotFound
		}
		return conversation.Room{}, err
	}
	return row.toDomain(), nil
}

// CreateOrGetRoom claims the (buyer, property, agent) slot with a lightweight
// transaction so concurrent creators end up in the same room.
func (s *Store) CreateOrGetRoom(ctx context.Context, buyerID, agentID, propertyID string) (string, error) {
	if s.session == nil {
		return "", ErrSessionMissing
	}
	key := conversation.NewKey(buyerID, propertyID)
	id := gocql.TimeUUID()
	existing := map[string]any{}
	applied, err := s.session.
		Query(`INSERT INTO chat_room_keys (buyer_id, property_id, receiver_id, room_id) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
			key.BuyerID, key.PropertyID, agentID, id).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(existing)
	if err != nil {
		return "", fmt.Errorf("claim room key: %w", err)
	}
	if !applied {
		if current, ok := existing["room_id"].(gocql.UUID); ok {
			return current.String(), nil
		}
		return "", fmt.Errorf("claim room key: existing row without room id")
	}

	now := time.Now().UTC()
	if err := s.session.
		Query(`INSERT INTO chat_rooms (id, buyer_id, property_id, receiver_id, participants, last_message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, key.BuyerID, key.PropertyID, agentID, []string{key.BuyerID, agentID}, "", now, now).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.Info("chat room created", "room_id", id.String(), "conversation", key.String(), "agent_id", agentID)
	}
	return id.String(), nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]conversation.RawMessage, error) {
	if s.session == nil {
		return nil, ErrSessionMissing
	}
	id, err := parseRoomID(roomID)
	if err != nil {
		return nil, err
	}
	iter := s.session.
		Query(`SELECT message_id, sender_id, sender_role, text, created_at FROM chat_messages WHERE room_id = ?`, id).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		messageID gocql.UUID
		senderID  string
		role      string
		text      string
		createdAt time.Time
		out       = make([]conversation.RawMessage, 0)
	)
	for iter.Scan(&messageID, &senderID, &role, &text, &createdAt) {
		out = append(out, conversation.RawMessage{
			ID:         messageID.String(),
			SenderID:   senderID,
			SenderRole: role,
			Text:       text,
			Timestamp:  createdAt.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, roomID, senderID string, role conversation.Role, text string) (conversation.RawMessage, error) {
	if s.session == nil {
		return conversation.RawMessage{}, ErrSessionMissing
	}
	id, err := parseRoomID(roomID)
	if err != nil {
		return conversation.RawMessage{}, err
	}
	at := time.Now().UTC()
	messageID := gocql.UUIDFromTime(at)
	if err := s.session.
		Query(`INSERT INTO chat_messages (room_id, message_id, sender_id, sender_role, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, messageID, senderID, string(role), text, at).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return conversation.RawMessage{}, err
	}
	// room metadata and the change signal are best-effort
	if err := s.session.
		Query(`UPDATE chat_rooms SET last_message = ?, last_sender_role = ?, updated_at = ? WHERE id = ?`,
			trimSnippet(text, snippetLimit), string(role), at, id).
		WithContext(ctx).
		Consistency(gocql.One).
		Exec(); err != nil && s.logger != nil {
		s.logger.Warn("failed to update last message meta", "error", err, "room_id", roomID)
	}
	if s.Feed != nil {
		if err := s.Feed.Publish(ctx, roomID); err != nil && s.logger != nil {
			s.logger.Warn("room change not published", "error", err, "room_id", roomID)
		}
	}
	return conversation.RawMessage{
		ID:         messageID.String(),
		SenderID:   senderID,
		SenderRole: string(role),
		Text:       text,
		Timestamp:  at,
	}, nil
}

// SetReadStatus writes the user's status together with the time of the write.
func (s *Store) SetReadStatus(ctx context.Context, roomID, userID string, status conversation.Status) error {
	if s.session == nil {
		return ErrSessionMissing
	}
	if !status.Valid() {
		return conversation.ErrInvalidStatus
	}
	id, err := parseRoomID(roomID)
	if err != nil {
		return err
	}
	return s.session.
		Query(`UPDATE chat_rooms SET read_status[?] = ?, read_at[?] = ? WHERE id = ?`,
			userID, string(status), userID, time.Now().UTC(), id).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

// SubscribeMessages delivers the current snapshot, then a fresh snapshot after every
// change until the returned function is called.
func (s *Store) SubscribeMessages(ctx context.Context, roomID string, fn func([]conversation.RawMessage)) (func(), error) {
	snapshot, err := s.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	signals, err := s.watch(subCtx, roomID)
	if err != nil {
		cancel()
		return nil, err
	}
	fn(snapshot)

	done := make(chan struct{})
	go func() {
		defer close(done)
		last := fingerprint(snapshot)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}
			next, err := s.ListMessages(subCtx, roomID)
			if err != nil {
				if subCtx.Err() == nil && s.logger != nil {
					s.logger.Warn("message reload failed", "room_id", roomID, "error", err)
				}
				continue
			}
			if fp := fingerprint(next); fp != last {
				last = fp
				fn(next)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *Store) watch(ctx context.Context, roomID string) (<-chan struct{}, error) {
	if s.Feed != nil {
		return s.Feed.Watch(ctx, roomID)
	}
	interval := s.WatchInterval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func fingerprint(msgs []conversation.RawMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%s", len(msgs), msgs[len(msgs)-1].ID)
}

func parseRoomID(raw string) (gocql.UUID, error) {
	id, err := gocql.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("%w: %q", ErrRoomNotFound, raw)
	}
	return id, nil
}

func trimSnippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
