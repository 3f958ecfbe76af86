// Package events publishes scan lifecycle transitions to RabbitMQ so that other
// services can react to submitted, finished and abandoned scans.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/threatmodelerx/go-api/tmx/queue"
	"github.com/threatmodelerx/go-api/tmx/scan"
)

// DefaultQueue receives lifecycle events.
const DefaultQueue = "tmx-scan-events"

// Event types.
const (
	TypeSubmitted = "scan_submitted"
	TypeCompleted = "scan_completed"
	TypeFailed    = "scan_failed"
	TypeTimeout   = "scan_timeout"
	TypeCancelled = "scan_cancelled"
)

// publishTimeout bounds one publish issued from an observer callback.
const publishTimeout = 5 * time.Second

// Message is the JSON body of one lifecycle event.
type Message struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	ScanID     string    `json:"scan_id"`
	State      string    `json:"state"`
	StatusText string    `json:"status_text"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher is a scan.Observer that forwards lifecycle transitions to a queue.
// Publish errors are logged and never fail the scan.
type Publisher struct {
	queue string
	pub   queue.Publisher
	now   func() time.Time
}

// NewPublisher creates a Publisher on qName. An empty qName uses DefaultQueue.
func NewPublisher(pub queue.Publisher, qName string) *Publisher {
	if qName == "" {
		qName = DefaultQueue
	}
	return &Publisher{queue: qName, pub: pub, now: time.Now}
}

// typeFor maps a lifecycle event to an event type, or "" for events not published.
func typeFor(kind scan.EventKind) string {
	switch kind {
	case scan.EventSubmitted:
		return TypeSubmitted
	case scan.EventCompleted:
		return TypeCompleted
	case scan.EventFailed:
		return TypeFailed
	case scan.EventTimeout:
		return TypeTimeout
	case scan.EventCancelled:
		return TypeCancelled
	}
	return ""
}

// NewMessage builds the message for e, or returns false when e is not published.
func (p *Publisher) NewMessage(e scan.Event) (Message, bool) {
	eventType := typeFor(e.Kind)
	if eventType == "" {
		return Message{}, false
	}
	msg := Message{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		ScanID:     e.Session.ScanID,
		State:      string(e.Session.State),
		StatusText: e.Session.StatusText,
		Progress:   e.Session.Progress,
		Timestamp:  p.now().UTC(),
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg, true
}

func (p *Publisher) OnEvent(e scan.Event) {
	msg, ok := p.NewMessage(e)
	if !ok {
		return
	}
	if err := p.publish(msg); err != nil {
		slog.Warn("Failed to publish scan event", "event_type", msg.EventType, "scan_id", msg.ScanID, "error", err)
	}
}

func (p *Publisher) publish(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.pub.Publish(ctx, p.queue, "application/json", body)
}

// Decode parses a message body received from the events queue.
func Decode(body string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode scan event: %w", err)
	}
	if msg.EventType == "" || msg.ScanID == "" {
		return Message{}, fmt.Errorf("scan event without type or scan id")
	}
	return msg, nil
}
