// Package protocol defines the observer wire protocol: JSON messages a
// monitoring client exchanges with the bot core over a websocket. JSON
// Schemas for every message live under schemas/ at the repo root.
package protocol

import (
	"encoding/json"

	"playerbots/internal/sim/monitor"
)

const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeWelcome   = "WELCOME"
	TypeSnapshot  = "SNAPSHOT"
	TypeAlert     = "ALERT"
	TypeBots      = "BOTS"
	TypeError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the observer connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// IntervalMs is the snapshot cadence. Clamped server-side.
	IntervalMs int `json:"interval_ms"`

	// Feeds the client wants. Alerts stream as they fire; snapshots and
	// bot states tick at IntervalMs.
	Alerts bool `json:"alerts"`
	Bots   bool `json:"bots"`
}

// Server -> Client. Acknowledges the subscription with effective settings.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	IntervalMs      int    `json:"interval_ms"`
}

// Server -> Client. One monitor snapshot per interval.
type SnapshotMsg struct {
	Type            string                      `json:"type"`
	ProtocolVersion string                      `json:"protocol_version"`
	Snapshot        monitor.PerformanceSnapshot `json:"snapshot"`
}

// Server -> Client. Forwarded as alerts fire.
type AlertMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Alert           monitor.Alert `json:"alert"`
}

// BotState is the per-bot line in a BOTS message.
type BotState struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Band    string `json:"band"`
	Enabled bool   `json:"enabled"`
	Dead    bool   `json:"dead"`
}

// Server -> Client. Roster state, sent per interval when subscribed.
type BotsMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Bots            []BotState `json:"bots"`
}

// Server -> Client. Terminal protocol failure before close.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
