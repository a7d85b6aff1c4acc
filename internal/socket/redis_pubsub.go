package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
)

// RedisPubSub relays room deliveries between gateway nodes. Each node
// delivers its own events locally and ignores them when they come back.
type RedisPubSub struct {
	log        *logger.Logger
	client     *redis.Client
	channel    string
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

type envelope struct {
	NodeID      string          `json:"nodeId"`
	RoomID      uuid.UUID       `json:"roomId"`
	ExcludeConn uuid.UUID       `json:"excludeConn"`
	Persistent  bool            `json:"persistent"`
	Disband     bool            `json:"disband,omitempty"`
	Frame       json.RawMessage `json:"frame"`
}

func NewRedisPubSub(log *logger.Logger, client *redis.Client, channel string) *RedisPubSub {
	return &RedisPubSub{
		log:     log.With("component", "RedisPubSub", "channel", channel),
		client:  client,
		channel: channel,
	}
}

func (rp *RedisPubSub) StartSubscriber(hub *Hub) error {
	ctx, cancel := context.WithCancel(context.Background())
	rp.mu.Lock()
	rp.cancelFunc = cancel
	rp.mu.Unlock()

	pubsub := rp.client.Subscribe(ctx, rp.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to redis channel: %w", err)
	}
	rp.log.Info("RedisPubSub subscribed successfully")

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				rp.log.Debug("Redis pubsub context done, stopping subscription goroutine")
				return
			case msg, ok := <-ch:
				if !ok {
					rp.log.Debug("PubSub channel closed, stopping subscription goroutine")
					return
				}
				env, err := decodeEnvelope(msg.Payload)
				if err != nil {
					rp.log.Warn("Failed to decode pubsub message", "error", err)
					continue
				}
				if env.NodeID == hub.NodeID() {
					continue
				}
				hub.localBroadcast(Delivery{
					RoomID:      env.RoomID,
					Frame:       env.Frame,
					ExcludeConn: env.ExcludeConn,
					Persistent:  env.Persistent,
					Disband:     env.Disband,
				})
			}
		}
	}()
	return nil
}

func (rp *RedisPubSub) Publish(ctx context.Context, nodeID string, d Delivery) error {
	payload, err := json.Marshal(envelope{
		NodeID:      nodeID,
		RoomID:      d.RoomID,
		ExcludeConn: d.ExcludeConn,
		Persistent:  d.Persistent,
		Disband:     d.Disband,
		Frame:       d.Frame,
	})
	if err != nil {
		return err
	}
	return rp.client.Publish(ctx, rp.channel, payload).Err()
}

func (rp *RedisPubSub) Stop() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.cancelFunc != nil {
		rp.cancelFunc()
		rp.cancelFunc = nil
	}
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if len(env.Frame) == 0 {
		return env, fmt.Errorf("envelope has no frame")
	}
	return env, nil
}
