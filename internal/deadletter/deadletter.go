// Package deadletter keeps webhook deliveries that could not be reconciled, so an
// operator can inspect and replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultListName = "payments:webhook:deadletter"
	defaultMaxLen   = 10_000
)

// Record is one rejected delivery.
type Record struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	ExternalID string    `json:"external_id"`
	Reason     string    `json:"reason"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`

	raw string // stored form, set by Recent
}

type Queue struct {
	client   *redis.Client
	logger   *zap.Logger
	listName string
	maxLen   int64
}

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

func NewQueue(client *redis.Client, logger *zap.Logger, listName string) *Queue {
	if listName == "" {
		listName = DefaultListName
	}

	return &Queue{client: client, logger: logger, listName: listName, maxLen: defaultMaxLen}
}

// Send pushes a record to the head of the list and trims the oldest beyond the cap.
func (q *Queue) Send(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.listName, data)
	pipe.LTrim(ctx, q.listName, 0, q.maxLen-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing dead letter: %w", err)
	}

	q.logger.Info("webhook stored in dead letter queue",
		zap.String("event_id", rec.EventID),
		zap.String("type", rec.Type),
		zap.String("reason", rec.Reason),
	)

	return nil
}

// Recent returns up to n records, newest first.
func (q *Queue) Recent(ctx context.Context, n int64) ([]Record, error) {
	raw, err := q.client.LRange(ctx, q.listName, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}

	records := make([]Record, 0, len(raw))

	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			q.logger.Warn("skipping undecodable dead letter", zap.Error(err))
			continue
		}

		rec.raw = item
		records = append(records, rec)
	}

	return records, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.listName).Result()
	if err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}

	return n, nil
}

// Remove deletes one stored copy of rec. Records read through Recent match exactly.
func (q *Queue) Remove(ctx context.Context, rec Record) error {
	raw := rec.raw
	if raw == "" {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding dead letter: %w", err)
		}

		raw = string(data)
	}

	if err := q.client.LRem(ctx, q.listName, 1, raw).Err(); err != nil {
		return fmt.Errorf("removing dead letter: %w", err)
	}

	return nil
}
