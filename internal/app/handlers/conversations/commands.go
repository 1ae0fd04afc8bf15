package conversations

import (
	"context"
	"errors"
	"strings"

	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/dto"
	"estatedesk/internal/app/inbox"
	"estatedesk/internal/domain/conversation"
)

const (
	sendMessageKey      = "conversations.send_message"
	setStatusKey        = "conversations.set_status"
	openConversationKey = "conversations.open"
	saveDraftKey        = "conversations.save_draft"
)

var ErrInvalidTab = errors.New("conversations: invalid tab")

// SessionSource resolves the mounted inbox of an agent.
type SessionSource interface {
	Get(agentID string) (*inbox.Inbox, error)
}

type SendMessageCommand struct {
	AgentID         string
	Conversation    conversation.Key
	Text            string
	IdempotencyKeyV string
}

func (c SendMessageCommand) Key() string          { return sendMessageKey }
func (c SendMessageCommand) Agent() string        { return c.AgentID }
func (c SendMessageCommand) ResultPrototype() any { return &SendMessageResult{} }

// IdempotencyKey scopes the client-supplied key to the agent.
func (c SendMessageCommand) IdempotencyKey() string {
	if c.IdempotencyKeyV == "" {
		return ""
	}
	return c.AgentID + ":" + c.IdempotencyKeyV
}

// Fingerprint ties a replayed key to the same conversation and text.
func (c SendMessageCommand) Fingerprint() string {
	return c.Conversation.String() + "\n" + c.Text
}

func (c SendMessageCommand) Validate() error {
	if c.Conversation.IsZero() {
		return conversation.ErrInvalidKey
	}
	return nil
}

type SendMessageResult struct {
	Message dto.ChatMessage `json:"message"`
}

type SendMessageHandler struct {
	Sessions SessionSource
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*SendMessageResult, error) {
	in, err := h.Sessions.Get(cmd.AgentID)
	if err != nil {
		return nil, err
	}
	msg, err := in.SendMessage(ctx, cmd.Conversation, cmd.Text)
	if err != nil {
		return nil, err
	}
	return &SendMessageResult{Message: dto.MapMessage(msg)}, nil
}

type SetStatusCommand struct {
	AgentID      string
	Conversation conversation.Key
	Status       string
}

func (c SetStatusCommand) Key() string   { return setStatusKey }
func (c SetStatusCommand) Agent() string { return c.AgentID }

func (c SetStatusCommand) Validate() error {
	if c.Conversation.IsZero() {
		return conversation.ErrInvalidKey
	}
	_, err := conversation.ParseStatus(c.Status)
	return err
}

type SetStatusHandler struct {
	Sessions SessionSource
}

func (h *SetStatusHandler) Handle(ctx context.Context, cmd SetStatusCommand) (*dto.Conversation, error) {
	status, err := conversation.ParseStatus(cmd.Status)
	if err != nil {
		return nil, err
	}
	in, err := h.Sessions.Get(cmd.AgentID)
	if err != nil {
		return nil, err
	}
	if err := in.SetStatus(ctx, cmd.Conversation, status); err != nil {
		return nil, err
	}
	return conversationResult(in, cmd.Conversation)
}

// OpenConversationCommand focuses a conversation tab. Opening the messages tab marks
// the conversation read.
type OpenConversationCommand struct {
	AgentID      string
	Conversation conversation.Key
	Tab          string
}

func (c OpenConversationCommand) Key() string   { return openConversationKey }
func (c OpenConversationCommand) Agent() string { return c.AgentID }

func (c OpenConversationCommand) Validate() error {
	if c.Conversation.IsZero() {
		return conversation.ErrInvalidKey
	}
	if !inbox.Tab(strings.ToLower(c.Tab)).Valid() {
		return ErrInvalidTab
	}
	return nil
}

type OpenConversationHandler struct {
	Sessions SessionSource
}

func (h *OpenConversationHandler) Handle(ctx context.Context, cmd OpenConversationCommand) (*dto.Conversation, error) {
	in, err := h.Sessions.Get(cmd.AgentID)
	if err != nil {
		return nil, err
	}
	if err := in.Open(ctx, cmd.Conversation, inbox.Tab(strings.ToLower(cmd.Tab))); err != nil {
		return nil, err
	}
	return conversationResult(in, cmd.Conversation)
}

type SaveDraftCommand struct {
	AgentID      string
	Conversation conversation.Key
	Text         string
}

func (c SaveDraftCommand) Key() string   { return saveDraftKey }
func (c SaveDraftCommand) Agent() string { return c.AgentID }

type SaveDraftHandler struct {
	Sessions SessionSource
}

func (h *SaveDraftHandler) Handle(ctx context.Context, cmd SaveDraftCommand) (*DraftResult, error) {
	in, err := h.Sessions.Get(cmd.AgentID)
	if err != nil {
		return nil, err
	}
	if _, ok := in.Conversation(cmd.Conversation); !ok {
		return nil, inbox.ErrUnknownConversation
	}
	in.SetDraft(cmd.Conversation, cmd.Text)
	return &DraftResult{Key: cmd.Conversation.String(), Text: in.Draft(cmd.Conversation)}, nil
}

type DraftResult struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

func conversationResult(in *inbox.Inbox, key conversation.Key) (*dto.Conversation, error) {
	conv, ok := in.Conversation(key)
	if !ok {
		return nil, inbox.ErrUnknownConversation
	}
	out := dto.MapConversation(conv)
	return &out, nil
}

// Register wires the conversation command handlers into bus.
func Register(bus *commands.InMemoryBus, sessions SessionSource) {
	commands.RegisterHandler[SendMessageCommand, *SendMessageResult](bus, sendMessageKey, &SendMessageHandler{Sessions: sessions})
	commands.RegisterHandler[SetStatusCommand, *dto.Conversation](bus, setStatusKey, &SetStatusHandler{Sessions: sessions})
	commands.RegisterHandler[OpenConversationCommand, *dto.Conversation](bus, openConversationKey, &OpenConversationHandler{Sessions: sessions})
	commands.RegisterHandler[SaveDraftCommand, *DraftResult](bus, saveDraftKey, &SaveDraftHandler{Sessions: sessions})
}

var (
	_ commands.Handler[SendMessageCommand, *SendMessageResult]     = (*SendMessageHandler)(nil)
	_ commands.Handler[SetStatusCommand, *dto.Conversation]        = (*SetStatusHandler)(nil)
	_ commands.Handler[OpenConversationCommand, *dto.Conversation] = (*OpenConversationHandler)(nil)
	_ commands.Handler[SaveDraftCommand, *DraftResult]             = (*SaveDraftHandler)(nil)
)
