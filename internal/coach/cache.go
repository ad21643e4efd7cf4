package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/redis"
)

const (
	redisInvalidateChannel = "coach:invalidate"
	redisHistoryTTL        = 30 * time.Minute
)

type invalidateMessage struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// historyCache keeps session transcripts in redis so restarted or
// peer instances skip the db read. All methods tolerate a nil client.
type historyCache struct {
	client *redis.Client
}

func newHistoryCache(client *redis.Client) *historyCache {
	return &historyCache{client: client}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("coach:history:%s", sessionID)
}

func (c *historyCache) store(sessionID string, history []*models.Message) {
	if c == nil || c.client == nil || sessionID == "" {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("coach history marshal failed: %v", err)
		return
	}
	if err := c.client.Set(context.Background(), historyKey(sessionID), data, redisHistoryTTL); err != nil {
		log.Printf("coach history cache failed: %v", err)
	}
}

func (c *historyCache) load(sessionID string) ([]*models.Message, bool) {
	if c == nil || c.client == nil || sessionID == "" {
		return nil, false
	}
	raw, err := c.client.Get(context.Background(), historyKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("coach history load failed: %v", err)
		}
		return nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Printf("coach history decode failed: %v", err)
		return nil, false
	}
	return history, true
}

func (c *historyCache) invalidate(sessionID string) {
	if c == nil || c.client == nil || sessionID == "" {
		return
	}
	if err := c.client.Del(context.Background(), historyKey(sessionID)); err != nil && err != redis.ErrCacheMiss {
		log.Printf("coach history invalidate failed: %v", err)
	}
}

// startListener subscribes to invalidations published by peer instances.
func (c *historyCache) startListener(handler func(invalidateMessage)) {
	if c == nil || c.client == nil || handler == nil {
		return
	}
	pubsub := c.client.Subscribe(context.Background(), redisInvalidateChannel)
	if pubsub == nil {
		return
	}
	go func() {
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				log.Printf("coach invalidation decode failed: %v", err)
				continue
			}
			handler(inv)
		}
	}()
}

func (c *historyCache) publishInvalidation(msg invalidateMessage) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("coach invalidation marshal failed: %v", err)
		return
	}
	if err := c.client.Publish(context.Background(), redisInvalidateChannel, payload); err != nil {
		log.Printf("coach publish invalidation failed: %v", err)
	}
}
