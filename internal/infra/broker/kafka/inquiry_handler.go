package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
)

var ErrEventWithoutID = errors.New("kafka: inquiry event without id")

// Deduper records processed event ids.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Refresher requests out-of-band inbox refreshes.
type Refresher interface {
	RequestRefresh() int
}

type inquiryEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		InquiryID  string `json:"inquiry_id"`
		PropertyID string `json:"property_id"`
	} `json:"data"`
}

// InquiryEventsHandler refreshes mounted inboxes when the inquiry service reports a
// new or changed inquiry, so agents see it before the next poll.
type InquiryEventsHandler struct {
	Dedup     Deduper
	Refresher Refresher
	Logger    *slog.Logger
}

func (h *InquiryEventsHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt inquiryEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("dropping undecodable inquiry event", "offset", msg.Offset, "error", err)
		}
		return nil
	}
	if evt.ID == "" {
		evt.ID = headerValue(msg, "ce-id")
	}
	if evt.ID == "" {
		if h.Logger != nil {
			h.Logger.Warn("dropping inquiry event", "offset", msg.Offset, "error", ErrEventWithoutID)
		}
		return nil
	}
	if h.Dedup != nil {
		seen, err := h.Dedup.Seen(ctx, evt.ID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}
	started := 0
	if h.Refresher != nil {
		started = h.Refresher.RequestRefresh()
	}
	if h.Logger != nil {
		h.Logger.Debug("inquiry event handled", "event_id", evt.ID, "type", evt.Type, "inquiry_id", evt.Data.InquiryID, "refreshes", started)
	}
	return nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
