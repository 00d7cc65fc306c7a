package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// APIVersion is stamped on every outbound payload envelope.
const APIVersion = "2025-06"

// Event is a domain event handed to the dispatcher by a collaborator. The
// engine does not interpret Data.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Data      JSON      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the JSON body POSTed to subscriber endpoints.
type Envelope struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Created    string `json:"created"`
	Data       JSON   `json:"data"`
	APIVersion string `json:"api_version"`
}

// IdempotencyKey fingerprints an event against a subscription. Map keys are
// sorted by encoding/json, so logically identical event data always hashes
// to the same key.
func IdempotencyKey(subscriptionID, eventType string, data JSON) string {
	encoded, _ := json.Marshal(data)

	h := sha256.New()
	h.Write([]byte(subscriptionID))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}
