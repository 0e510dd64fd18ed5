// Package bus implements the optional cross-broker-instance fan-out
// substrate over Redis pub/sub, reusing the teacher's nil-safe Service
// pattern and gobreaker guard so a single broker instance degrades
// gracefully with bus == nil and a multi-instance deployment gets
// fail-fast behavior when Redis is unreachable.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/metrics"
)

// Event is the payload carried over the cross-instance channel: a room
// event or a directly-addressed message notification.
type Event struct {
	RoomID   string `json:"room_id,omitempty"`
	Target   string `json:"target,omitempty"`
	Kind     string `json:"kind"`
	Payload  []byte `json:"payload"`
	SenderID string `json:"sender_id,omitempty"`
}

// Service wraps a Redis client with a circuit breaker. A nil *Service (or
// a Service with a nil client) means single-instance mode: every method is
// a safe no-op and returns a nil error.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	wg     sync.WaitGroup
}

// NewService dials addr and verifies connectivity; returns (nil, err) on
// failure so callers can choose to run single-instance instead of failing
// startup.
func NewService(ctx context.Context, addr string) (*Service, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("bus: ping redis: %w", err)
	}

	cbSettings := gobreaker.Settings{
		Name:        "redis-bus",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn(context.Background(), "circuit breaker state change")
		},
	}

	return &Service{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}, nil
}

// Publish broadcasts event to every broker instance subscribed to room.
func (s *Service) Publish(ctx context.Context, roomID, kind string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Event{RoomID: roomID, Kind: kind, Payload: data, SenderID: senderID}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.client.Publish(ctx, channelForRoom(roomID), raw).Err()
	})
	if err == gobreaker.ErrOpenState {
		logging.Warn(ctx, "bus publish skipped: circuit open")
		return nil
	}
	return err
}

// PublishDirect sends event to exactly one client id's channel, across
// instances, for delivery-failed and direct-message notifications.
func (s *Service) PublishDirect(ctx context.Context, targetClientID, kind string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Event{Target: targetClientID, Kind: kind, Payload: data, SenderID: senderID}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.client.Publish(ctx, channelForClient(targetClientID), raw).Err()
	})
	if err == gobreaker.ErrOpenState {
		logging.Warn(ctx, "bus publish-direct skipped: circuit open")
		return nil
	}
	return err
}

// Subscribe starts a goroutine delivering every Event on room's channel to
// handler until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, roomID string, handler func(Event)) {
	if s == nil || s.client == nil {
		return
	}
	sub := s.client.Subscribe(ctx, channelForRoom(roomID))
	ch := sub.Channel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				handler(ev)
			}
		}
	}()
}

// Ping verifies connectivity for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection and waits for subscriber
// goroutines to exit.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.wg.Wait()
	return err
}

// RedisClient exposes the underlying client for packages (rate limiting)
// that need a shared store; returns nil in single-instance mode.
func (s *Service) RedisClient() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func channelForRoom(roomID string) string  { return "agentbus:room:" + roomID }
func channelForClient(clientID string) string { return "agentbus:client:" + clientID }
