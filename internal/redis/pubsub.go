package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// OutboxPubSub announces freshly enqueued outbox jobs so that any replica's
// worker can pick them up without waiting for its next poll.
type OutboxPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewOutboxPubSub(rdb *redis.Client) *OutboxPubSub {
	return &OutboxPubSub{
		rdb:     rdb,
		channel: ChannelOutbox(),
	}
}

type jobEnqueuedMsg struct {
	Type       string `json:"type"`
	TicketCode string `json:"ticket_code"`
	TsUnix     int64  `json:"ts_unix"`
}

func (p *OutboxPubSub) PublishJob(ctx context.Context, ticketCode string) error {
	msg := jobEnqueuedMsg{
		Type:       "job_enqueued",
		TicketCode: ticketCode,
		TsUnix:     time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe blocks, calling handler for every announced job, until ctx is
// done or the subscription is closed.
func (p *OutboxPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ticketCode string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev jobEnqueuedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.TicketCode != "" {
				handler(ctx, ev.TicketCode)
			}
		}
	}
}
