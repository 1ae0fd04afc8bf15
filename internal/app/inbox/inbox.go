package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"estatedesk/internal/domain/conversation"
)

const defaultFetchConcurrency = 4

// Options configure an Inbox.
type Options struct {
	AgentID          string
	PollInterval     time.Duration
	FetchConcurrency int
	Now              func() time.Time
}

// Deps are the collaborators of an Inbox.
type Deps struct {
	Inquiries InquiryStore
	Chat      ChatStore
	Buyers    BuyerDirectory
	Events    EventSink
	Logger    *slog.Logger
}

// View is a consistent snapshot of the inbox for the UI.
type View struct {
	Conversations []conversation.Conversation
	UnreadBadge   int
	Banner        []error
	State         PollState
	OpenKey       conversation.Key
	OpenTab       Tab
	RefreshedAt   time.Time
}

// Inbox is the single owner of one agent's merged conversation list, message cache,
// drafts and optimistic entries. Every mutation goes through mu; no remote call is
// made while mu is held.
type Inbox struct {
	agentID    string
	inquiries  InquiryStore
	chat       ChatStore
	logger     *slog.Logger
	fetchLimit int

	reconciler  Reconciler
	tracker     *ReadStateTracker
	stream      *MessageStream
	coordinator *Coordinator
	poller      *Poller

	mu            sync.Mutex
	conversations []conversation.Conversation
	messages      map[conversation.Key][]conversation.Message
	optimistic    map[conversation.Key][]conversation.Message
	drafts        map[conversation.Key]string
	banner        []error
	refreshedAt   time.Time
	lifetime      context.Context
	stopLifetime  context.CancelFunc
	background    sync.WaitGroup
}

func New(opts Options, deps Deps) *Inbox {
	fetchLimit := opts.FetchConcurrency
	if fetchLimit <= 0 {
		fetchLimit = defaultFetchConcurrency
	}
	in := &Inbox{
		agentID:    opts.AgentID,
		inquiries:  deps.Inquiries,
		chat:       deps.Chat,
		logger:     deps.Logger,
		fetchLimit: fetchLimit,
		reconciler: Reconciler{Buyers: deps.Buyers, Logger: deps.Logger},
		tracker: &ReadStateTracker{
			Chat:   deps.Chat,
			UserID: opts.AgentID,
			Events: deps.Events,
			Logger: deps.Logger,
			Now:    opts.Now,
		},
		stream: &MessageStream{Chat: deps.Chat, Logger: deps.Logger},
		coordinator: &Coordinator{
			Inquiries: deps.Inquiries,
			Chat:      deps.Chat,
			AgentID:   opts.AgentID,
			Events:    deps.Events,
			Logger:    deps.Logger,
			Now:       opts.Now,
		},
		messages:   make(map[conversation.Key][]conversation.Message),
		optimistic: make(map[conversation.Key][]conversation.Message),
		drafts:     make(map[conversation.Key]string),
	}
	in.poller = &Poller{Fetch: in.Refresh, Interval: opts.PollInterval, Logger: deps.Logger}
	in.lifetime, in.stopLifetime = context.WithCancel(context.Background())
	return in
}

func (in *Inbox) AgentID() string { return in.agentID }

// Mount starts visibility-aware polling with an immediate refresh.
func (in *Inbox) Mount(ctx context.Context) error {
	return in.poller.Start(ctx)
}

// SetVisible pauses or resumes polling.
func (in *Inbox) SetVisible(visible bool) {
	in.poller.SetVisible(visible)
}

// RequestRefresh asks for an out-of-band refresh, e.g. the banner's retry button.
// It reports false when a refresh is already running or the inbox is not mounted.
func (in *Inbox) RequestRefresh() bool {
	return in.poller.Trigger()
}

// Unmount stops polling, cancels the live subscription and waits for background work.
// The lifetime is cancelled under mu, so no background work starts after Wait begins.
func (in *Inbox) Unmount() {
	in.poller.Stop()
	in.mu.Lock()
	in.stopLifetime()
	in.mu.Unlock()
	in.stream.Close()
	in.tracker.Blur()
	in.background.Wait()
}

// Refresh runs one reconciliation pass. Both sources are fetched before anything is
// merged. A failing source degrades the result and is reported as a SourceError.
func (in *Inbox) Refresh(ctx context.Context) error {
	var (
		inquiries []conversation.Inquiry
		rooms     []conversation.Room
		inqErr    error
		roomErr   error
		g         errgroup.Group
	)
	g.Go(func() error {
		if in.inquiries == nil {
			return nil
		}
		inquiries, inqErr = in.inquiries.List(ctx)
		return nil
	})
	g.Go(func() error {
		if in.chat == nil {
			roomErr = errors.New("chat store not configured")
			return nil
		}
		rooms, roomErr = in.chat.ListRoomsForUser(ctx, in.agentID)
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var banner []error
	if inqErr != nil {
		banner = append(banner, &SourceError{Source: SourceInquiries, Err: inqErr})
		inquiries = nil
	}
	if roomErr != nil {
		banner = append(banner, &SourceError{Source: SourceChat, Err: roomErr})
		rooms = nil
	}
	if inqErr != nil && roomErr != nil {
		in.mu.Lock()
		in.banner = banner
		in.mu.Unlock()
		in.logRefreshFailure(banner)
		return errors.Join(banner...)
	}

	merged := in.reconciler.Reconcile(ctx, inquiries, rooms, in.agentID)
	if roomErr == nil {
		in.tracker.Observe(rooms)
	}
	streaming := in.stream.RoomID()
	snapshots := in.fetchSnapshots(ctx, merged, streaming)

	in.mu.Lock()
	present := make(map[conversation.Key]struct{}, len(merged))
	for i := range merged {
		key := merged[i].Key
		present[key] = struct{}{}
		merged[i].Status = in.coordinator.Guard(key, merged[i].Status)
		if msgs, ok := snapshots[key]; ok {
			in.messages[key] = in.mergeOptimisticLocked(key, msgs)
		}
		applyLatest(&merged[i], in.messages[key])
		merged[i].UnreadCount = in.tracker.UnreadFor(key, in.messages[key])
	}
	for key := range in.messages {
		if _, ok := present[key]; !ok {
			delete(in.messages, key)
			delete(in.optimistic, key)
		}
	}
	sortConversations(merged)
	in.conversations = merged
	in.banner = banner
	in.refreshedAt = time.Now().UTC()
	in.mu.Unlock()

	in.resubscribeOpen(ctx)

	if len(banner) > 0 {
		in.logRefreshFailure(banner)
		return errors.Join(banner...)
	}
	return nil
}

// fetchSnapshots loads message snapshots for every room except the streamed one.
// Rooms that fail keep their cached messages.
func (in *Inbox) fetchSnapshots(ctx context.Context, convs []conversation.Conversation, streaming string) map[conversation.Key][]conversation.Message {
	out := make(map[conversation.Key][]conversation.Message)
	if in.chat == nil {
		return out
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(in.fetchLimit)
	for _, conv := range convs {
		if conv.ChatRoomID == "" || conv.ChatRoomID == streaming {
			continue
		}
		key, roomID := conv.Key, conv.ChatRoomID
		g.Go(func() error {
			raw, err := in.chat.ListMessages(ctx, roomID)
			if err != nil {
				if in.logger != nil {
					in.logger.Debug("message snapshot failed", "room_id", roomID, "error", err)
				}
				return nil
			}
			msgs := NormalizeMessages(roomID, raw, in.logger)
			mu.Lock()
			out[key] = msgs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Open focuses a conversation. The details tab never marks anything read; the
// messages tab does.
func (in *Inbox) Open(ctx context.Context, key conversation.Key, tab Tab) error {
	if !tab.Valid() {
		tab = TabDetails
	}
	conv, ok := in.Conversation(key)
	if !ok {
		return ErrUnknownConversation
	}
	trigger := in.tracker.Focus(key, tab)
	if trigger {
		in.markRead(ctx, key)
	}
	return in.ensureStream(ctx, conv)
}

// Select opens key on its details tab.
func (in *Inbox) Select(ctx context.Context, key conversation.Key) error {
	return in.Open(ctx, key, TabDetails)
}

// FocusMessages opens key on its messages tab and marks it read.
func (in *Inbox) FocusMessages(ctx context.Context, key conversation.Key) error {
	return in.Open(ctx, key, TabMessages)
}

// Close clears the focus state and stops the live stream.
func (in *Inbox) Close() {
	in.tracker.Blur()
	in.stream.Close()
}

func (in *Inbox) ensureStream(ctx context.Context, conv conversation.Conversation) error {
	if conv.ChatRoomID == "" {
		in.stream.Close()
		return nil
	}
	if in.stream.RoomID() == conv.ChatRoomID {
		return nil
	}
	key, roomID := conv.Key, conv.ChatRoomID
	_, err := in.stream.Subscribe(in.lifetime, roomID, func(msgs []conversation.Message) {
		in.onSnapshot(key, msgs)
	})
	if err != nil && in.logger != nil {
		in.logger.Warn("message subscription failed", "room_id", roomID, "error", err)
	}
	return err
}

func (in *Inbox) resubscribeOpen(ctx context.Context) {
	key, _ := in.tracker.Focused()
	if key.IsZero() {
		return
	}
	conv, ok := in.Conversation(key)
	if !ok {
		return
	}
	_ = in.ensureStream(ctx, conv)
}

// onSnapshot replaces the cached messages of key with a full stream snapshot.
func (in *Inbox) onSnapshot(key conversation.Key, msgs []conversation.Message) {
	in.mu.Lock()
	merged := in.mergeOptimisticLocked(key, msgs)
	in.messages[key] = merged
	if idx := in.indexLocked(key); idx >= 0 {
		applyLatest(&in.conversations[idx], merged)
		in.conversations[idx].UnreadCount = in.tracker.UnreadFor(key, merged)
		sortConversations(in.conversations)
	}
	needsMark := in.lifetime.Err() == nil &&
		in.tracker.IsReading(key) &&
		UnreadCount(merged, in.tracker.State(key)) > 0 &&
		!in.tracker.Pending(key)
	if needsMark {
		in.background.Add(1)
	}
	in.mu.Unlock()

	if needsMark {
		go func() {
			defer in.background.Done()
			in.markRead(in.lifetime, key)
		}()
	}
}

func (in *Inbox) markRead(ctx context.Context, key conversation.Key) {
	conv, ok := in.Conversation(key)
	if !ok {
		return
	}
	status, err := in.tracker.MarkRead(ctx, key, conv.ChatRoomID, conv.Status)
	if err != nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if idx := in.indexLocked(key); idx >= 0 {
		c := &in.conversations[idx]
		c.Status = in.coordinator.Guard(key, conversation.MaxStatus(c.Status, status))
		c.UnreadCount = in.tracker.UnreadFor(key, in.messages[key])
	}
}

// SendMessage sends text, or the stored draft when text is empty. On failure the
// draft is restored and local state is left untouched.
func (in *Inbox) SendMessage(ctx context.Context, key conversation.Key, text string) (conversation.Message, error) {
	conv, ok := in.Conversation(key)
	if !ok {
		return conversation.Message{}, ErrUnknownConversation
	}
	in.mu.Lock()
	if text == "" {
		text = in.drafts[key]
	}
	delete(in.drafts, key)
	in.mu.Unlock()

	res, err := in.coordinator.SendMessage(ctx, targetOf(conv), text)
	if err != nil {
		if text != "" {
			in.mu.Lock()
			in.drafts[key] = text
			in.mu.Unlock()
		}
		return conversation.Message{}, err
	}

	in.mu.Lock()
	if !containsMessage(in.messages[key], res.Message.ID) {
		in.messages[key] = append(in.messages[key], res.Message)
		sortMessages(in.messages[key])
		in.optimistic[key] = append(in.optimistic[key], res.Message)
	}
	if idx := in.indexLocked(key); idx >= 0 {
		c := &in.conversations[idx]
		c.ChatRoomID = res.RoomID
		c.Status = res.Status
		applyLatest(c, in.messages[key])
		sortConversations(in.conversations)
	}
	in.mu.Unlock()

	if open, _ := in.tracker.Focused(); open == key {
		if current, ok := in.Conversation(key); ok {
			_ = in.ensureStream(ctx, current)
		}
	}
	return res.Message, nil
}

// SetStatus applies status locally, writes it through and rolls back on failure.
func (in *Inbox) SetStatus(ctx context.Context, key conversation.Key, status conversation.Status) error {
	if !status.Valid() {
		return conversation.ErrInvalidStatus
	}
	in.mu.Lock()
	idx := in.indexLocked(key)
	if idx < 0 {
		in.mu.Unlock()
		return ErrUnknownConversation
	}
	conv := in.conversations[idx]
	previous := conv.Status
	in.conversations[idx].Status = status
	in.mu.Unlock()

	roomID, err := in.coordinator.SetStatus(ctx, targetOf(conv), status)

	in.mu.Lock()
	defer in.mu.Unlock()
	idx = in.indexLocked(key)
	if idx < 0 {
		return err
	}
	if err != nil {
		if in.conversations[idx].Status == status {
			in.conversations[idx].Status = previous
		}
		return err
	}
	if in.conversations[idx].ChatRoomID == "" {
		in.conversations[idx].ChatRoomID = roomID
	}
	return nil
}

func (in *Inbox) SetDraft(key conversation.Key, text string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if text == "" {
		delete(in.drafts, key)
		return
	}
	in.drafts[key] = text
}

func (in *Inbox) Draft(key conversation.Key) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.drafts[key]
}

// Conversation returns a copy of the merged conversation for key.
func (in *Inbox) Conversation(key conversation.Key) (conversation.Conversation, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if idx := in.indexLocked(key); idx >= 0 {
		return in.conversations[idx], true
	}
	return conversation.Conversation{}, false
}

// Conversations returns a copy of the merged list, most recent activity first.
func (in *Inbox) Conversations() []conversation.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]conversation.Conversation(nil), in.conversations...)
}

// Messages returns the cached messages of key in timestamp order.
func (in *Inbox) Messages(key conversation.Key) []conversation.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]conversation.Message(nil), in.messages[key]...)
}

// UnreadBadge sums unread buyer messages across conversations, skipping the one
// open in the messages tab.
func (in *Inbox) UnreadBadge() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.tracker.Badge(in.messages)
}

// Banner lists the sources that failed during the last refresh.
func (in *Inbox) Banner() []error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]error(nil), in.banner...)
}

func (in *Inbox) Snapshot() View {
	open, tab := in.tracker.Focused()
	state := in.poller.State()
	in.mu.Lock()
	defer in.mu.Unlock()
	return View{
		Conversations: append([]conversation.Conversation(nil), in.conversations...),
		UnreadBadge:   in.tracker.Badge(in.messages),
		Banner:        append([]error(nil), in.banner...),
		State:         state,
		OpenKey:       open,
		OpenTab:       tab,
		RefreshedAt:   in.refreshedAt,
	}
}

// mergeOptimisticLocked combines a snapshot with locally appended messages the
// snapshot does not reflect yet. An optimistic entry is dropped only once the
// snapshot holds it: same id, or same text, role and timestamp.
func (in *Inbox) mergeOptimisticLocked(key conversation.Key, snapshot []conversation.Message) []conversation.Message {
	pending := in.optimistic[key]
	if len(pending) == 0 {
		return snapshot
	}
	kept := pending[:0:0]
	for _, p := range pending {
		if supersedes(snapshot, p) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		delete(in.optimistic, key)
		return snapshot
	}
	in.optimistic[key] = kept
	out := make([]conversation.Message, 0, len(snapshot)+len(kept))
	out = append(out, snapshot...)
	out = append(out, kept...)
	sortMessages(out)
	return out
}

func (in *Inbox) indexLocked(key conversation.Key) int {
	for i := range in.conversations {
		if in.conversations[i].Key == key {
			return i
		}
	}
	return -1
}

func (in *Inbox) logRefreshFailure(banner []error) {
	if in.logger == nil {
		return
	}
	for _, err := range banner {
		in.logger.Warn("refresh degraded", "agent_id", in.agentID, "error", err)
	}
}

func supersedes(snapshot []conversation.Message, p conversation.Message) bool {
	for _, m := range snapshot {
		if m.ID == p.ID {
			return true
		}
		if m.Text == p.Text && m.Role == p.Role && m.Timestamp.Equal(p.Timestamp) {
			return true
		}
	}
	return false
}

// applyLatest moves the conversation's last message forward when msgs is newer.
func applyLatest(c *conversation.Conversation, msgs []conversation.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Timestamp.After(c.LastActivity) {
		c.LastMessage = last.Text
		c.LastActivity = last.Timestamp
	}
}

func sortConversations(convs []conversation.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].LastActivity.Equal(convs[j].LastActivity) {
			return convs[i].LastActivity.After(convs[j].LastActivity)
		}
		return convs[i].Key.String() < convs[j].Key.String()
	})
}

func containsMessage(msgs []conversation.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func targetOf(conv conversation.Conversation) Target {
	return Target{
		Key:       conv.Key,
		RoomID:    conv.ChatRoomID,
		InquiryID: conv.InquiryID,
		Status:    conv.Status,
	}
}
