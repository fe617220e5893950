package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"rollcall/internal/attendance"
)

// Publisher turns audit entries into queue messages typed by their kind.
type Publisher struct {
	q Queue
}

// NewPublisher wraps q.
func NewPublisher(q Queue) *Publisher {
	return &Publisher{q: q}
}

var _ attendance.Notifier = (*Publisher)(nil)

// Notify publishes e.
func (p *Publisher) Notify(ctx context.Context, e attendance.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, Message{Type: e.Kind, Body: body})
}

// AuditAppender persists audit entries.
type AuditAppender interface {
	AppendAudit(ctx context.Context, e attendance.AuditEntry) error
}

// Decode parses an audit message.
func Decode(msg Message) (attendance.AuditEntry, error) {
	var e attendance.AuditEntry
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return attendance.AuditEntry{}, fmt.Errorf("decode %s message: %w", msg.Type, err)
	}
	if e.Kind == "" {
		e.Kind = msg.Type
	}
	return e, nil
}

// RunAuditSink drains msgs into dst until the channel closes. Undecodable messages
// and failed writes are logged and dropped.
func RunAuditSink(ctx context.Context, msgs <-chan Message, dst AuditAppender) {
	for msg := range msgs {
		e, err := Decode(msg)
		if err != nil {
			log.Printf("audit sink: %v", err)
			continue
		}
		if err := dst.AppendAudit(ctx, e); err != nil {
			log.Printf("audit sink: append %s for class %s: %v", e.Kind, e.ClassID, err)
			continue
		}
		log.Printf("audit %s class=%s actor=%s", e.Kind, e.ClassID, e.ActorID)
	}
}
