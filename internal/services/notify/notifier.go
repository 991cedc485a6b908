package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type classifies a notification for the delivery service
type Type string

// Notification types
const (
	TypePayoutRequested      Type = "payout_requested"
	TypePayoutApproved       Type = "payout_approved"
	TypePayoutRejected       Type = "payout_rejected"
	TypePayoutPaid           Type = "payout_paid"
	TypePayoutTransferFailed Type = "payout_transfer_failed"
	TypeBonusAwarded         Type = "bonus_awarded"
)

// Notifier delivers a message to a user
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, typ Type, message string) error
}

// Message is the outbox record consumed by the delivery service
type Message struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisNotifier pushes messages onto a Redis list
type RedisNotifier struct {
	client *redis.Client
	key    string
}

// NewRedisNotifier creates a RedisNotifier writing to key
func NewRedisNotifier(client *redis.Client, key string) *RedisNotifier {
	return &RedisNotifier{client: client, key: key}
}

// Notify implements Notifier
func (n *RedisNotifier) Notify(ctx context.Context, userID uuid.UUID, typ Type, message string) error {
	payload, err := encode(Message{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := n.client.LPush(ctx, n.key, payload).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return payload, nil
}

// LogNotifier only logs, for local development
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, userID uuid.UUID, typ Type, message string) error {
	n.logger.WithFields(logrus.Fields{"user_id": userID, "type": typ}).Info(message)
	return nil
}

// BestEffort sends notifications in the background. Failures are logged and
// never reach the ledger operation that triggered them.
type BestEffort struct {
	next    Notifier
	logger  logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBestEffort wraps next
func NewBestEffort(next Notifier, logger logrus.FieldLogger, timeout time.Duration) *BestEffort {
	return &BestEffort{next: next, logger: logger.WithField("component", "notify"), timeout: timeout}
}

// Send queues a notification and returns immediately
func (b *BestEffort) Send(ctx context.Context, userID uuid.UUID, typ Type, message string) {
	// Detach from the caller so a finished HTTP request does not cancel delivery.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		if err := b.next.Notify(sendCtx, userID, typ, message); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{"user_id": userID, "type": typ}).Warn("notification failed")
		}
	}()
}

// Wait blocks until queued notifications finish
func (b *BestEffort) Wait() {
	b.wg.Wait()
}
