package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"playerbots/internal/protocol"
	"playerbots/internal/sim/monitor"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	// Marshal real message structs so the schemas and the Go types cannot
	// drift apart silently.
	roundTrip := func(msg any) any {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return v
	}

	validate(compile("subscribe.schema.json"), roundTrip(protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		IntervalMs:      1000,
		Alerts:          true,
		Bots:            true,
	}))

	validate(compile("welcome.schema.json"), roundTrip(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "O1",
		IntervalMs:      1000,
	}))

	validate(compile("snapshot.schema.json"), roundTrip(protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		Snapshot: monitor.PerformanceSnapshot{
			At:     1000,
			Uptime: 1000,
			Activity: monitor.Activity{
				BotsTotal:    120,
				BotsInCombat: 12,
				BotsQuesting: 80,
			},
			CPUFraction:   0.31,
			RSSBytes:      256 << 20,
			DBQueries:     4200,
			MeanBotStepUs: 180,
			MeanTickMs:    6.5,
		},
	}))

	validate(compile("alert.schema.json"), roundTrip(protocol.AlertMsg{
		Type:            protocol.TypeAlert,
		ProtocolVersion: protocol.Version,
		Alert: monitor.Alert{
			Level:     monitor.LevelCritical,
			Category:  "cpu_pct",
			Message:   "cpu over threshold",
			At:        1000,
			Current:   93,
			Threshold: 90,
		},
	}))

	validate(compile("bots.schema.json"), roundTrip(protocol.BotsMsg{
		Type:            protocol.TypeBots,
		ProtocolVersion: protocol.Version,
		Bots: []protocol.BotState{
			{ID: 1, Name: "Alwin", Band: "QUEST", Enabled: true},
			{ID: 2, Name: "Berta", Band: "COMBAT", Enabled: true, Dead: false},
		},
	}))

	validate(compile("error.schema.json"), roundTrip(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            protocol.ErrProtoVersion,
		Message:         "unsupported version",
	}))
}

func TestDecodeBase_RoutesByType(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","interval_ms":500}`))
	if err != nil || m.Type != protocol.TypeSubscribe || m.ProtocolVersion != "1.0" {
		t.Fatalf("base: %+v err=%v", m, err)
	}
	if _, err := protocol.DecodeBase([]byte(`{nope`)); err == nil {
		t.Fatalf("malformed json decoded")
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, c := range []string{"", protocol.ErrProtoBadRequest, protocol.ErrBusy, protocol.ErrInternal, protocol.ErrProtoVersion} {
		if !protocol.IsKnownCode(c) {
			t.Fatalf("code %q unknown", c)
		}
	}
	if protocol.IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}
