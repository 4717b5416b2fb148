package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"supporthub/internal/sse"
)

// reconnectDelay paces retries after a lost listen connection.
const reconnectDelay = 5 * time.Second

// Consumer receives envelopes from one transport and publishes them. Both
// providers share the publish path; only the subscription mechanics differ.
type Consumer struct {
	publisher sse.Publisher
}

func NewConsumer(publisher sse.Publisher) *Consumer {
	return &Consumer{publisher: publisher}
}

// handle decodes and publishes one raw envelope. Malformed and unknown
// envelopes are logged and dropped; they must never take the consumer down.
func (c *Consumer) handle(raw []byte) {
	event, err := Decode(raw)
	if err != nil {
		var unknown ErrUnknownType
		if errors.As(err, &unknown) {
			log.Printf("ingest: skipping event of unknown type %q", unknown.Type)
			return
		}
		log.Printf("ingest: dropping malformed envelope: %v", err)
		return
	}

	report := c.publisher.Publish(event)
	if report.Failed > 0 {
		log.Printf("ingest: %s delivered=%d failed=%d", event.Type, report.Delivered, report.Failed)
	}
}

// RunPostgres listens on a Postgres NOTIFY channel with a dedicated
// connection, reconnecting with a fixed delay until ctx is done. connString
// is the same DSN the rest of the server uses; LISTEN requires its own
// session, not a pool slot.
func (c *Consumer) RunPostgres(ctx context.Context, connString, channel string) {
	for {
		if err := c.listenPostgres(ctx, connString, channel); err != nil && ctx.Err() == nil {
			log.Printf("ingest: postgres listener error: %v (reconnecting in %s)", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) listenPostgres(ctx context.Context, connString, channel string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Printf("ingest: listening on postgres channel %q", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c.handle([]byte(notification.Payload))
	}
}

// RunRedis consumes the same envelopes from a Redis pub/sub channel. The
// go-redis subscription reconnects internally; the loop ends with ctx.
func (c *Consumer) RunRedis(ctx context.Context, client *redis.Client, channel string) {
	sub := client.Subscribe(ctx, channel)
	defer func() {
		if err := sub.Close(); err != nil {
			log.Printf("ingest: closing redis subscription: %v", err)
		}
	}()
	log.Printf("ingest: subscribed to redis channel %q", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handle([]byte(msg.Payload))
		}
	}
}
