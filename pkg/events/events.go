package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bookhaven/library-service/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	BorrowCreated  = "borrow.created"
	BorrowReturned = "borrow.returned"
	OverdueNotice  = "borrow.overdue.notice"
	BookCreated    = "book.created"
	BookDeleted    = "book.deleted"
	UserRegistered = "user.registered"
)

// Event payloads
type BorrowCreatedEvent struct {
	RecordID  int64     `json:"record_id"`
	UserID    int64     `json:"user_id"`
	BookID    int64     `json:"book_id"`
	BookTitle string    `json:"book_title"`
	DueDate   time.Time `json:"due_date"`
	CreatedAt time.Time `json:"created_at"`
}

type BorrowReturnedEvent struct {
	RecordID   int64     `json:"record_id"`
	UserID     int64     `json:"user_id"`
	BookID     int64     `json:"book_id"`
	ReturnedAt time.Time `json:"returned_at"`
	WasOverdue bool      `json:"was_overdue"`
}

type OverdueNoticeEvent struct {
	RecordID    int64     `json:"record_id"`
	UserID      int64     `json:"user_id"`
	BookTitle   string    `json:"book_title"`
	DueDate     time.Time `json:"due_date"`
	OverdueDays int       `json:"overdue_days"`
}

type BookCreatedEvent struct {
	BookID   int64  `json:"book_id"`
	Title    string `json:"title"`
	ISBN     string `json:"isbn"`
	Quantity int    `json:"quantity"`
}

type BookDeletedEvent struct {
	BookID int64  `json:"book_id"`
	ISBN   string `json:"isbn"`
}

type UserRegisteredEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}
