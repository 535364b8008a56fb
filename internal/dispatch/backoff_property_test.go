package dispatch

import (
    "encoding/json"
    "testing"
    "time"

    "pgregory.net/rapid"

    "bookrelay/internal/model"
)

func TestNextBackoffProperties(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        attempts := rapid.IntRange(-5, 100).Draw(t, "attempts")
        got := nextBackoff(attempts)
        if got < time.Second {
            t.Fatalf("backoff below floor: %v", got)
        }
        if got > time.Hour {
            t.Fatalf("backoff above cap: %v", got)
        }
        if attempts >= 0 && attempts < 100 {
            if next := nextBackoff(attempts + 1); next < got {
                t.Fatalf("backoff not monotonic: %v then %v", got, next)
            }
        }
    })
}

func TestTaggedPayloadProperties(t *testing.T) {
    rapid.Check(t, func(t *rapid.T) {
        ev := model.Event{
            ID:        rapid.StringMatching(`[a-f0-9-]{8,36}`).Draw(t, "id"),
            EventType: rapid.SampledFrom([]string{"booking.created", "booking.cancelled", "test.ping"}).Draw(t, "type"),
        }
        fields := rapid.MapOf(
            rapid.StringMatching(`[a-z]{1,8}`),
            rapid.Int64Range(-1000, 1000),
        ).Draw(t, "payload")
        ev.Payload, _ = json.Marshal(fields)

        out := taggedPayload(ev, time.Now())
        var doc map[string]any
        if err := json.Unmarshal(out, &doc); err != nil {
            t.Fatalf("output not json: %v", err)
        }
        if doc["webhook_event_id"] != ev.ID || doc["event_type"] != ev.EventType {
            t.Fatalf("tags missing: %+v", doc)
        }
        for k := range fields {
            switch k {
            case "webhook_event_id", "event_type", "delivered_at":
                continue // delivery tags win over payload keys
            }
            if _, ok := doc[k]; !ok {
                t.Fatalf("producer field %q dropped", k)
            }
        }
    })
}
