package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"beergame/internal/game"
)

// Channel is the Postgres NOTIFY channel carrying game events between
// processes sharing one database.
const Channel = "beergame_events"

// Bridge relays events between processes through Postgres. Observe sends
// this process's events with NOTIFY; Run listens and republishes events
// from other processes on the local broker.
type Bridge struct {
	pool   *pgxpool.Pool
	dsn    string
	broker *Broker
	log    *slog.Logger
}

var _ game.Observer = (*Bridge)(nil)

func NewBridge(pool *pgxpool.Pool, dsn string, broker *Broker, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{pool: pool, dsn: dsn, broker: broker, log: logger}
}

func (b *Bridge) Observe(ctx context.Context, ev game.Event) {
	payload, err := json.Marshal(b.broker.NewMessage(ev))
	if err != nil {
		b.log.Error("encode event", "err", err)
		return
	}
	// NOTIFY payloads are capped at 8000 bytes; drop the record list and
	// let listeners fetch it.
	if len(payload) >= 8000 && ev.Result != nil {
		trimmed := *ev.Result
		trimmed.Records = nil
		ev.Result = &trimmed
		if payload, err = json.Marshal(b.broker.NewMessage(ev)); err != nil {
			return
		}
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		b.log.Error("notify event", "kind", ev.Kind, "err", err)
	}
}

// Run listens until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	listener := pq.NewListener(b.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.log.Warn("event listener", "event", int(ev), "err", err)
		}
	})
	defer listener.Close()
	if err := listener.Listen(Channel); err != nil {
		return err
	}
	b.log.Info("listening for events", "channel", Channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established; events in between are lost.
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(n.Extra), &msg); err != nil {
				b.log.Warn("decode event", "err", err)
				continue
			}
			if msg.Origin == b.broker.Origin() {
				continue
			}
			b.broker.Publish(msg)
		case <-time.After(90 * time.Second):
			go func() {
				_ = listener.Ping()
			}()
		}
	}
}
