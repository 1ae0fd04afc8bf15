package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSource = "app://estatedesk/inbox"
	eventVersion  = "v1"
)

// cloudEvent is the structured-mode CloudEvents 1.0 envelope put on the wire.
type cloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TraceParent     string          `json:"traceparent,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// envelope wraps doc for publishing. Document headers are copied onto the
// record after the ce- headers, so an event cannot override its own id.
func envelope(doc *EventDocument, source string) ([]byte, map[string]string, error) {
	if !json.Valid(doc.Payload) {
		return nil, nil, fmt.Errorf("outbox: event %s has a malformed payload", doc.ID)
	}
	ceType := doc.Name + "." + eventVersion
	payload, err := json.Marshal(cloudEvent{
		SpecVersion:     "1.0",
		ID:              doc.ID,
		Type:            ceType,
		Source:          source,
		Subject:         doc.Key,
		Time:            doc.OccurredAt.UTC(),
		DataContentType: "application/json",
		TraceParent:     doc.Headers["traceparent"],
		Data:            doc.Payload,
	})
	if err != nil {
		return nil, nil, err
	}
	headers := make(map[string]string, len(doc.Headers)+3)
	for k, v := range doc.Headers {
		headers[k] = v
	}
	headers["content-type"] = "application/cloudevents+json"
	headers["ce-id"] = doc.ID
	headers["ce-type"] = ceType
	return payload, headers, nil
}

// topicFor routes by the event family: "conversation.read" goes to
// "<prefix>conversation.events.v1".
func topicFor(prefix, name string) string {
	family, _, _ := strings.Cut(name, ".")
	return prefix + family + ".events." + eventVersion
}
