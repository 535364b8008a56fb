package notify

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

const redisChannel = "bookrelay:events"

// RedisNotifier implements Notifier over Redis Pub/Sub so that a dispatch
// trigger in one instance fires for events enqueued through another. Each
// subscriber gets its own PubSub, closed again on Unsubscribe.
type RedisNotifier struct {
    rdb  *redis.Client
    mu   sync.Mutex
    subs map[chan Message]*redis.PubSub
}

func NewRedisNotifier(url string) (*RedisNotifier, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisNotifier{
        rdb:  redis.NewClient(opt),
        subs: map[chan Message]*redis.PubSub{},
    }, nil
}

func (n *RedisNotifier) Publish(msg Message) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(msg)
    _ = n.rdb.Publish(ctx, redisChannel, data).Err()
}

func (n *RedisNotifier) Subscribe() chan Message {
    ch := make(chan Message, 16)
    ctx := context.Background()
    ps := n.rdb.Subscribe(ctx, redisChannel)
    // initial consume to ensure the subscription is live
    _, _ = ps.Receive(ctx)
    n.mu.Lock()
    n.subs[ch] = ps
    n.mu.Unlock()
    go func() {
        defer close(ch)
        for raw := range ps.Channel() {
            var msg Message
            if err := json.Unmarshal([]byte(raw.Payload), &msg); err == nil {
                select { case ch <- msg: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the subscriber's PubSub, which ends the forwarding
// goroutine and closes ch.
func (n *RedisNotifier) Unsubscribe(ch chan Message) {
    n.mu.Lock()
    ps := n.subs[ch]
    delete(n.subs, ch)
    n.mu.Unlock()
    if ps != nil {
        _ = ps.Close()
    }
}
