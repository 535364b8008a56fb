// Package model defines the wire and storage types for webhook endpoints,
// queued events, and per-endpoint delivery records.
package model

import (
    "encoding/json"
    "time"
)

// Event statuses. pending -> in_flight -> {sent, failed}. A failed event
// below the attempt ceiling stays claimable once its next attempt is due;
// a terminal failure carries no next attempt and waits for operator retry.
const (
    StatusPending  = "pending"
    StatusInFlight = "in_flight"
    StatusSent     = "sent"
    StatusFailed   = "failed"
)

// Failure reasons recorded on failed events.
const (
    ReasonNoEndpoints    = "no_endpoints"
    ReasonDeliveryFailed = "delivery_failed"
)

// Delivery outcomes for per-endpoint delivery records.
const (
    OutcomeDelivered = "delivered"
    OutcomeFailed    = "failed"
)

type Endpoint struct {
    ID        string    `json:"id"`
    TenantID  string    `json:"tenantId"`
    URL       string    `json:"url"`
    Secret    string    `json:"secret,omitempty"`
    RateLimit int       `json:"rateLimit,omitempty"` // deliveries/sec, 0 = unlimited
    Active    bool      `json:"active"`
    CreatedAt time.Time `json:"createdAt"`
}

type EndpointRequest struct {
    TenantID  string `json:"tenantId"`
    URL       string `json:"url"`
    Secret    string `json:"secret"`
    RateLimit int    `json:"rateLimit"`
}

// EndpointPatch carries partial updates; nil fields are left untouched.
type EndpointPatch struct {
    URL       *string `json:"url"`
    Secret    *string `json:"secret"`
    RateLimit *int    `json:"rateLimit"`
    Active    *bool   `json:"active"`
}

type Event struct {
    ID            string          `json:"id"`
    TenantID      string          `json:"tenantId"`
    EventType     string          `json:"eventType"`
    Payload       json.RawMessage `json:"payload,omitempty"`
    Status        string          `json:"status"`
    Attempts      int             `json:"attempts"`
    FailureReason string          `json:"failureReason,omitempty"`
    LastError     string          `json:"lastError,omitempty"`
    LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
    NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
    CreatedAt     time.Time       `json:"createdAt"`
}

type EnqueueRequest struct {
    TenantID string          `json:"tenantId"`
    Type     string          `json:"type"`
    Payload  json.RawMessage `json:"payload"`
}

// DeliveryRecord captures one HTTP attempt against one endpoint.
type DeliveryRecord struct {
    ID           string    `json:"id"`
    EventID      string    `json:"eventId"`
    EndpointID   string    `json:"endpointId"`
    TenantID     string    `json:"tenantId"`
    Attempt      int       `json:"attempt"`
    Outcome      string    `json:"outcome"`
    ResponseCode int       `json:"responseCode,omitempty"`
    LatencyMs    int       `json:"latencyMs"`
    Error        string    `json:"error,omitempty"`
    CreatedAt    time.Time `json:"createdAt"`
}
