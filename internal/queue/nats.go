package queue

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSQueue publishes to a subject and consumes through a queue group, so
// each message reaches one worker.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue builds a queue on an established connection.
func NewNATSQueue(conn *nats.Conn, subject, group string) *NATSQueue {
	if subject == "" {
		subject = "attendance.events"
	}
	if group == "" {
		group = "attendance-workers"
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}
}

// Publish sends a message.
func (q *NATSQueue) Publish(_ context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.conn.Publish(q.subject, raw)
}

// Consume subscribes until ctx is done, then drains the subscription.
// Undecodable entries are dropped.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, in)
	if err != nil {
		return nil, err
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = sub.Drain() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				var msg Message
				if err := json.Unmarshal(m.Data, &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
