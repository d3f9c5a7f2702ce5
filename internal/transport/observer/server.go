// Package observer serves the monitoring feed over websockets: periodic
// performance snapshots and roster state, plus alerts forwarded as they
// fire. Loopback clients only; this is an operator surface, not a player
// one.
package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"playerbots/internal/protocol"
	"playerbots/internal/sim/bots"
	"playerbots/internal/sim/monitor"
)

// BotLister exposes the roster for BOTS messages. Called off the sim
// thread; implementations must be safe for concurrent use.
type BotLister interface {
	All() []*bots.Bot
}

const (
	minIntervalMs = 250
	maxIntervalMs = 60_000
)

type Server struct {
	mon    *monitor.Monitor
	roster BotLister
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan monitor.Alert
}

func NewServer(mon *monitor.Monitor, roster BotLister, logger *log.Logger) *Server {
	s := &Server{
		mon:    mon,
		roster: roster,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]chan monitor.Alert{},
	}
	// One callback fans out to every subscribed connection. Slow readers
	// drop alerts rather than stall the monitor.
	mon.OnAlert(func(a monitor.Alert) {
		s.mu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- a:
			default:
			}
		}
		s.mu.Unlock()
	})
	return s
}

// BootstrapHandler answers GET with the current snapshot, for one-shot
// polls without a websocket.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(protocol.SnapshotMsg{
			Type:            protocol.TypeSnapshot,
			ProtocolVersion: protocol.Version,
			Snapshot:        s.mon.Snapshot(),
		})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != protocol.TypeSubscribe {
			s.closeWith(conn, protocol.ErrProtoBadRequest, "expected SUBSCRIBE")
			return
		}
		if sub.ProtocolVersion != protocol.Version {
			s.closeWith(conn, protocol.ErrProtoVersion, "unsupported version "+sub.ProtocolVersion)
			return
		}
		normalizeSubscribe(&sub)

		id := s.nextID.Add(1)
		sid := fmt.Sprintf("O%d", id)

		alerts := make(chan monitor.Alert, 256)
		s.mu.Lock()
		s.subs[id] = alerts
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			IntervalMs:      sub.IntervalMs,
		}); err != nil {
			return
		}

		// Subscription updates flow from the reader loop to the writer.
		subUpdates := make(chan protocol.SubscribeMsg, 4)
		done := make(chan struct{})

		writeErr := make(chan error, 1)
		go func() {
			ticker := time.NewTicker(time.Duration(sub.IntervalMs) * time.Millisecond)
			defer ticker.Stop()
			cur := sub
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case next := <-subUpdates:
					if next.IntervalMs != cur.IntervalMs {
						ticker.Reset(time.Duration(next.IntervalMs) * time.Millisecond)
					}
					cur = next
				case a := <-alerts:
					if !cur.Alerts {
						continue
					}
					if err := s.writeJSON(conn, protocol.AlertMsg{
						Type:            protocol.TypeAlert,
						ProtocolVersion: protocol.Version,
						Alert:           a,
					}); err != nil {
						writeErr <- err
						return
					}
				case <-ticker.C:
					if err := s.writeJSON(conn, protocol.SnapshotMsg{
						Type:            protocol.TypeSnapshot,
						ProtocolVersion: protocol.Version,
						Snapshot:        s.mon.Snapshot(),
					}); err != nil {
						writeErr <- err
						return
					}
					if cur.Bots {
						if err := s.writeJSON(conn, s.botsMsg()); err != nil {
							writeErr <- err
							return
						}
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var next protocol.SubscribeMsg
			if err := json.Unmarshal(msg, &next); err != nil {
				continue
			}
			if next.Type != protocol.TypeSubscribe || next.ProtocolVersion != protocol.Version {
				continue
			}
			normalizeSubscribe(&next)
			select {
			case subUpdates <- next:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) botsMsg() protocol.BotsMsg {
	all := s.roster.All()
	states := make([]protocol.BotState, 0, len(all))
	for _, b := range all {
		states = append(states, protocol.BotState{
			ID:      uint64(b.ID),
			Name:    b.Name,
			Band:    b.Band().String(),
			Enabled: b.Enabled,
			Dead:    b.Dead,
		})
	}
	return protocol.BotsMsg{
		Type:            protocol.TypeBots,
		ProtocolVersion: protocol.Version,
		Bots:            states,
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

func (s *Server) closeWith(conn *websocket.Conn, code, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteJSON(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.IntervalMs < minIntervalMs {
		sub.IntervalMs = 1000
	}
	if sub.IntervalMs > maxIntervalMs {
		sub.IntervalMs = maxIntervalMs
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
