package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenStateResilient - универсальный цикл для "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения и отдает сырые сообщения в onMessage.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Callback для синхронизации при переподключении
	onMessage func(payload string), // Callback для обработки сообщения
) {
	for {
		if ctx.Err() != nil {
			return
		}
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Вызываем синхронизацию при каждом успешном коннекте
		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				logger.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// ApprovalDecision - решение внешнего агента согласования.
type ApprovalDecision struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	Approver  string `json:"approver"`
	Comment   string `json:"comment,omitempty"`
}

// ListenApprovalDecisions принимает решения из канала и передает их в apply.
// apply сам фиксирует решение и продолжает заявку.
func ListenApprovalDecisions(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	apply func(ctx context.Context, d ApprovalDecision),
) {
	logger = logger.Named("approval-listener")
	ListenStateResilient(ctx, rdb, logger, channel,
		func() error {
			logger.Info("subscribed to approval decisions", zap.String("chan", channel))
			return nil
		},
		func(payload string) {
			var d ApprovalDecision
			if err := json.Unmarshal([]byte(payload), &d); err != nil || d.RequestID == "" {
				logger.Error("invalid decision format", zap.String("payload", payload))
				return
			}
			apply(ctx, d)
		},
	)
}

// RedisPublisher транслирует события заявок в канал Pub/Sub.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, timeout: time.Second, logger: logger.Named("event-publisher")}
}

func (p *RedisPublisher) OnEvent(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", zap.Error(err))
		return
	}
	// Отмена запроса не должна терять событие
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(pctx, p.channel, raw).Err(); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("fulfillment_id", ev.FulfillmentID),
			zap.String("state", string(ev.State)),
			zap.Error(err))
	}
}
