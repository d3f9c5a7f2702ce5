package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"playerbots/internal/protocol"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/monitor"
)

type obsEnv struct {
	mon   *monitor.Monitor
	sched *bots.Scheduler
	srv   *httptest.Server
}

func newObsEnv(t *testing.T) *obsEnv {
	t.Helper()
	clk := clock.NewManual(1000)
	mon := monitor.New(monitor.Config{}, clk, nil)
	sched := bots.NewScheduler(bots.SchedulerConfig{}, clk, mon, nil)
	sched.Add(bots.NewBot(1, "Alwin"))
	sched.Add(bots.NewBot(2, "Berta"))

	s := NewServer(mon, sched, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/ws", s.WSHandler())
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &obsEnv{mon: mon, sched: sched, srv: srv}
}

func (e *obsEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", wantType, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s before deadline", wantType)
	return nil
}

func subscribe(t *testing.T, conn *websocket.Conn, sub protocol.SubscribeMsg) {
	t.Helper()
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestWS_SnapshotAndBotsFeed(t *testing.T) {
	e := newObsEnv(t)
	conn := e.dial(t)

	subscribe(t, conn, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		IntervalMs:      250,
		Bots:            true,
	})

	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.SessionID == "" || welcome.IntervalMs != 250 {
		t.Fatalf("welcome: %+v", welcome)
	}

	var snap protocol.SnapshotMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeSnapshot), &snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ProtocolVersion != protocol.Version {
		t.Fatalf("snapshot version: %+v", snap)
	}

	var bmsg protocol.BotsMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeBots), &bmsg); err != nil {
		t.Fatalf("bots: %v", err)
	}
	if len(bmsg.Bots) != 2 {
		t.Fatalf("bots: %+v", bmsg.Bots)
	}
}

func TestWS_AlertsForwarded(t *testing.T) {
	e := newObsEnv(t)
	conn := e.dial(t)

	subscribe(t, conn, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		IntervalMs:      60_000,
		Alerts:          true,
	})
	readUntil(t, conn, protocol.TypeWelcome)

	e.mon.Emit(monitor.Alert{Level: monitor.LevelWarning, Category: "queue", Message: "soft cap reached"})

	var amsg protocol.AlertMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAlert), &amsg); err != nil {
		t.Fatalf("alert: %v", err)
	}
	if amsg.Alert.Category != "queue" || amsg.Alert.Level != monitor.LevelWarning {
		t.Fatalf("alert: %+v", amsg.Alert)
	}
}

func TestWS_BadHandshakeRejected(t *testing.T) {
	e := newObsEnv(t)

	// Wrong first message type.
	conn := e.dial(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SNAPSHOT"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &errMsg); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if errMsg.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code: %+v", errMsg)
	}

	// Wrong protocol version.
	conn2 := e.dial(t)
	subscribe(t, conn2, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: "0.1"})
	if err := json.Unmarshal(readUntil(t, conn2, protocol.TypeError), &errMsg); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if errMsg.Code != protocol.ErrProtoVersion {
		t.Fatalf("code: %+v", errMsg)
	}
}

func TestBootstrap_OneShotSnapshot(t *testing.T) {
	e := newObsEnv(t)

	resp, err := http.Get(e.srv.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var snap protocol.SnapshotMsg
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Type != protocol.TypeSnapshot || snap.ProtocolVersion != protocol.Version {
		t.Fatalf("snapshot: %+v", snap)
	}
}
