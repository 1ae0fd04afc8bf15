package ginserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/dto"
	"estatedesk/internal/app/handlers/conversations"
	"estatedesk/internal/app/inbox"
	"estatedesk/internal/app/middleware"
	"estatedesk/internal/app/queries"
	"estatedesk/internal/domain/conversation"
)

const defaultStreamInterval = 2 * time.Second

// SessionManager mounts and unmounts per-agent inboxes.
type SessionManager interface {
	Mount(agentID string) (*inbox.Inbox, error)
	Get(agentID string) (*inbox.Inbox, error)
	Unmount(agentID string) bool
}

// InboxHandler exposes the agent inbox. Writes and reads go through the buses;
// session lifecycle calls go straight to the session registry.
type InboxHandler struct {
	Commands       commands.Bus
	Queries        queries.Bus
	Sessions       SessionManager
	StreamInterval time.Duration
	Logger         *slog.Logger
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type openRequest struct {
	Tab string `json:"tab"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type draftRequest struct {
	Text string `json:"text"`
}

func (h InboxHandler) Mount(c *gin.Context) {
	agentID, ok := requireAgent(c)
	if !ok {
		return
	}
	if _, err := h.Sessions.Mount(agentID); err != nil {
		h.respondError(c, err, "mount inbox", "agent_id", agentID)
		return
	}
	view, err := queries.Ask[conversations.ListConversationsQuery, dto.InboxView](c.Request.Context(), h.Queries, conversations.ListConversationsQuery{AgentID: agentID})
	if err != nil {
		h.respondError(c, err, "list conversations", "agent_id", agentID)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h InboxHandler) Unmount(c *gin.Context) {
	agentID, ok := requireAgent(c)
	if !ok {
		return
	}
	if !h.Sessions.Unmount(agentID) {
		h.respondError(c, inbox.ErrNotMounted, "unmount inbox", "agent_id", agentID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h InboxHandler) SetVisibility(c *gin.Context) {
	in, ok := h.session(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in.SetVisible(req.Visible)
	c.JSON(http.StatusOK, gin.H{"state": in.Snapshot().State.String()})
}

// Refresh is the banner retry: it starts a refresh unless one is already running.
func (h InboxHandler) Refresh(c *gin.Context) {
	in, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": in.RequestRefresh()})
}

func (h InboxHandler) List(c *gin.Context) {
	agentID, ok := requireAgent(c)
	if !ok {
		return
	}
	view, err := queries.Ask[conversations.ListConversationsQuery, dto.InboxView](c.Request.Context(), h.Queries, conversations.ListConversationsQuery{AgentID: agentID})
	if err != nil {
		h.respondError(c, err, "list conversations", "agent_id", agentID)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Events streams the inbox view as server-sent events whenever it changes.
func (h InboxHandler) Events(c *gin.Context) {
	agentID, ok := requireAgent(c)
	if !ok {
		return
	}
	if _, err := h.Sessions.Get(agentID); err != nil {
		h.respondError(c, err, "stream inbox", "agent_id", agentID)
		return
	}
	interval := h.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	ctx := c.Request.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	send := func() bool {
		view, err := queries.Ask[conversations.ListConversationsQuery, dto.InboxView](ctx, h.Queries, conversations.ListConversationsQuery{AgentID: agentID})
		if err != nil {
			c.SSEvent("error", gin.H{"error": err.Error()})
			return false
		}
		payload, err := json.Marshal(view)
		if err != nil {
			return false
		}
		if string(payload) != string(last) {
			last = payload
			c.SSEvent("inbox", json.RawMessage(payload))
		}
		return true
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			return send()
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return send()
		}
	})
}

func (h InboxHandler) Open(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Tab == "" {
		req.Tab = string(inbox.TabDetails)
	}
	cmd := conversations.OpenConversationCommand{AgentID: agentID, Conversation: key, Tab: req.Tab}
	result, err := commands.Dispatch[conversations.OpenConversationCommand, *dto.Conversation](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondError(c, err, "open conversation", "agent_id", agentID, "conversation", key.String())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h InboxHandler) Close(c *gin.Context) {
	in, ok := h.session(c)
	if !ok {
		return
	}
	in.Close()
	c.Status(http.StatusNoContent)
}

func (h InboxHandler) Messages(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	q := conversations.ListMessagesQuery{AgentID: agentID, Conversation: key}
	list, err := queries.Ask[conversations.ListMessagesQuery, dto.ChatMessageList](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.respondError(c, err, "list messages", "agent_id", agentID, "conversation", key.String())
		return
	}
	c.JSON(http.StatusOK, list)
}

// SendMessage sends the body text, or the saved draft when the body is empty.
// On a failed send the draft is restored and returned with the 502.
func (h InboxHandler) SendMessage(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := conversations.SendMessageCommand{
		AgentID:         agentID,
		Conversation:    key,
		Text:            req.Text,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[conversations.SendMessageCommand, *conversations.SendMessageResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		if errors.Is(err, inbox.ErrSendFailed) {
			h.logError("send message failed", err, "agent_id", agentID, "conversation", key.String())
			body := gin.H{"error": "message not sent"}
			draft, draftErr := queries.Ask[conversations.GetDraftQuery, *conversations.DraftResult](c.Request.Context(), h.Queries, conversations.GetDraftQuery{AgentID: agentID, Conversation: key})
			if draftErr == nil && draft != nil {
				body["draft"] = draft.Text
			}
			c.JSON(http.StatusBadGateway, body)
			return
		}
		h.respondError(c, err, "send message", "agent_id", agentID, "conversation", key.String())
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h InboxHandler) SetStatus(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := conversations.SetStatusCommand{AgentID: agentID, Conversation: key, Status: req.Status}
	result, err := commands.Dispatch[conversations.SetStatusCommand, *dto.Conversation](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondError(c, err, "set status", "agent_id", agentID, "conversation", key.String(), "status", req.Status)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h InboxHandler) GetDraft(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	q := conversations.GetDraftQuery{AgentID: agentID, Conversation: key}
	draft, err := queries.Ask[conversations.GetDraftQuery, *conversations.DraftResult](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.respondError(c, err, "get draft", "agent_id", agentID, "conversation", key.String())
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h InboxHandler) SaveDraft(c *gin.Context) {
	agentID, key, ok := h.target(c)
	if !ok {
		return
	}
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := conversations.SaveDraftCommand{AgentID: agentID, Conversation: key, Text: req.Text}
	draft, err := commands.Dispatch[conversations.SaveDraftCommand, *conversations.DraftResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondError(c, err, "save draft", "agent_id", agentID, "conversation", key.String())
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (h InboxHandler) session(c *gin.Context) (*inbox.Inbox, bool) {
	agentID, ok := requireAgent(c)
	if !ok {
		return nil, false
	}
	in, err := h.Sessions.Get(agentID)
	if err != nil {
		h.respondError(c, err, "load session", "agent_id", agentID)
		return nil, false
	}
	return in, true
}

func (h InboxHandler) target(c *gin.Context) (string, conversation.Key, bool) {
	agentID, ok := requireAgent(c)
	if !ok {
		return "", conversation.Key{}, false
	}
	property := strings.TrimSpace(c.Param("property"))
	if property == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property id is required"})
		return "", conversation.Key{}, false
	}
	return agentID, conversation.NewKey(c.Param("buyer"), property), true
}

func (h InboxHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, conversations.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	case errors.Is(err, conversations.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, inbox.ErrNotMounted):
		c.JSON(http.StatusConflict, gin.H{"error": "inbox not mounted"})
	case errors.Is(err, inbox.ErrUnknownConversation):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, conversation.ErrInvalidKey),
		errors.Is(err, conversation.ErrInvalidStatus),
		errors.Is(err, conversations.ErrInvalidTab),
		errors.Is(err, inbox.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, inbox.ErrGuestBuyer), errors.Is(err, middleware.ErrIdempotencyKeyReused):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, inbox.ErrSourceUnavailable):
		h.logError("inbox source unavailable", err, append([]any{"action", action}, attrs...)...)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inbox source unavailable"})
	case errors.Is(err, inbox.ErrSendFailed), errors.Is(err, inbox.ErrStatusWriteFailed):
		h.logError("chat write failed", err, append([]any{"action", action}, attrs...)...)
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat unavailable"})
	default:
		h.logError("inbox request failed", err, append([]any{"action", action}, attrs...)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h InboxHandler) logError(msg string, err error, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error(msg, append([]any{"error", err}, attrs...)...)
	}
}

var _ InboxHTTP = InboxHandler{}
