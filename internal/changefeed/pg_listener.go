package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rankinge/internal/model"
)

// Channel はitemsトリガーが通知するチャネル名。
const Channel = "item_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Publisher はイベントの配信先。Hubが実装する。
type Publisher interface {
	Publish(event model.ItemEvent)
}

// PGListener はPostgreSQLのLISTEN item_changesを受信してPublisherに流す。
type PGListener struct {
	databaseURL string
	publisher   Publisher
	logger      *slog.Logger
}

// NewPGListener はPGListenerを生成する。
func NewPGListener(databaseURL string, publisher Publisher, logger *slog.Logger) *PGListener {
	return &PGListener{
		databaseURL: databaseURL,
		publisher:   publisher,
		logger:      logger,
	}
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
// 接続断の間に発生した変更は失われるため、購読者は再購読で最新状態を読み直す。
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, l.onEvent)
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen %s: %w", Channel, err)
	}
	l.logger.Info("listening for item changes", slog.String("channel", Channel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// 再接続直後はnilが届く
			if n == nil {
				l.logger.Warn("item change listener reconnected; notifications may have been missed")
				continue
			}
			l.handle(n.Extra)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("item change listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *PGListener) handle(payload string) {
	event, err := ParsePayload(payload)
	if err != nil {
		l.logger.Warn("dropping malformed item change payload",
			slog.String("error", err.Error()),
			slog.Int("payload_size", len(payload)),
		)
		return
	}
	l.publisher.Publish(event)
}

func (l *PGListener) onEvent(ev pq.ListenerEventType, err error) {
	if err == nil {
		return
	}
	l.logger.Error("item change listener connection event",
		slog.Int("event", int(ev)),
		slog.String("error", err.Error()),
	)
}
