// Package redispub publishes progress snapshots over Redis pub/sub.
package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// Channel names. Subscribers can follow a single job or the whole firehose.
const (
	progressChannelPrefix = "migration:progress:"
	progressChannelAll    = "migration:progress"
)

// Publisher implements core.Publisher over Redis pub/sub.
type Publisher struct {
	client redis.UniversalClient
}

// NewPublisher creates a Publisher with the given Redis client.
func NewPublisher(client redis.UniversalClient) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Publisher{client: client}, nil
}

// PublishProgress sends the snapshot to the job's channel and the firehose.
// Pub/sub is fire-and-forget: subscribers that miss a message catch up on the
// next tick.
func (p *Publisher) PublishProgress(ctx context.Context, snapshot *model.ProgressSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}
	if err := p.client.Publish(ctx, progressChannelPrefix+snapshot.JobID, payload).Err(); err != nil {
		return fmt.Errorf("publish job progress: %w", err)
	}
	if err := p.client.Publish(ctx, progressChannelAll, payload).Err(); err != nil {
		return fmt.Errorf("publish progress firehose: %w", err)
	}
	return nil
}
