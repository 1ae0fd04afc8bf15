package conversations

import (
	"context"

	"estatedesk/internal/app/dto"
	"estatedesk/internal/app/inbox"
	"estatedesk/internal/app/queries"
	"estatedesk/internal/domain/conversation"
)

const (
	listConversationsKey = "conversations.list"
	listMessagesKey      = "conversations.messages"
	getDraftKey          = "conversations.draft"
)

type ListConversationsQuery struct {
	AgentID string
}

func (q ListConversationsQuery) Key() string   { return listConversationsKey }
func (q ListConversationsQuery) Agent() string { return q.AgentID }

type ListConversationsHandler struct {
	Sessions SessionSource
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.InboxView, error) {
	in, err := h.Sessions.Get(q.AgentID)
	if err != nil {
		return dto.InboxView{}, err
	}
	return MapView(in.Snapshot()), nil
}

type ListMessagesQuery struct {
	AgentID      string
	Conversation conversation.Key
}

func (q ListMessagesQuery) Key() string   { return listMessagesKey }
func (q ListMessagesQuery) Agent() string { return q.AgentID }

type ListMessagesHandler struct {
	Sessions SessionSource
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (dto.ChatMessageList, error) {
	in, err := h.Sessions.Get(q.AgentID)
	if err != nil {
		return dto.ChatMessageList{}, err
	}
	if _, ok := in.Conversation(q.Conversation); !ok {
		return dto.ChatMessageList{}, inbox.ErrUnknownConversation
	}
	return dto.MapMessages(in.Messages(q.Conversation)), nil
}

type GetDraftQuery struct {
	AgentID      string
	Conversation conversation.Key
}

func (q GetDraftQuery) Key() string   { return getDraftKey }
func (q GetDraftQuery) Agent() string { return q.AgentID }

type GetDraftHandler struct {
	Sessions SessionSource
}

func (h *GetDraftHandler) Handle(ctx context.Context, q GetDraftQuery) (*DraftResult, error) {
	in, err := h.Sessions.Get(q.AgentID)
	if err != nil {
		return nil, err
	}
	return &DraftResult{Key: q.Conversation.String(), Text: in.Draft(q.Conversation)}, nil
}

// MapView renders an inbox snapshot for the API.
func MapView(v inbox.View) dto.InboxView {
	out := dto.InboxView{
		Items:       make([]dto.Conversation, 0, len(v.Conversations)),
		UnreadBadge: v.UnreadBadge,
		State:       v.State.String(),
		OpenTab:     string(v.OpenTab),
		RefreshedAt: v.RefreshedAt,
	}
	if !v.OpenKey.IsZero() {
		out.OpenKey = v.OpenKey.String()
	}
	for _, c := range v.Conversations {
		out.Items = append(out.Items, dto.MapConversation(c))
	}
	for _, err := range v.Banner {
		src := dto.SourceError{Message: err.Error()}
		if se, ok := err.(*inbox.SourceError); ok {
			src.Source = se.Source
		}
		out.Banner = append(out.Banner, src)
	}
	return out
}

// RegisterQueries wires the conversation query handlers into bus.
func RegisterQueries(bus *queries.InMemoryBus, sessions SessionSource) {
	queries.RegisterHandler[ListConversationsQuery, dto.InboxView](bus, listConversationsKey, &ListConversationsHandler{Sessions: sessions})
	queries.RegisterHandler[ListMessagesQuery, dto.ChatMessageList](bus, listMessagesKey, &ListMessagesHandler{Sessions: sessions})
	queries.RegisterHandler[GetDraftQuery, *DraftResult](bus, getDraftKey, &GetDraftHandler{Sessions: sessions})
}
