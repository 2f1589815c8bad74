package hub

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/synckit/synckit-server/internal/metrics"
)

// MaxFrameSize bounds a single inbound frame, per §6's limits table.
const MaxFrameSize = 2_000_000

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is enforced by internal/httpapi
}

// wsSender adapts a *websocket.Conn to the Sender interface, so room
// fan-out code never depends on gorilla/websocket directly. Writes are
// serialized: gorilla/websocket requires at most one concurrent writer
// per connection, but fan-out calls Send from whichever goroutine is
// broadcasting to this subscriber.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// ServeWS upgrades an HTTP request to a websocket connection and runs
// its read/dispatch loop until the transport closes, grounded on the
// teacher's upgrade-then-read-pump structure adapted from a one-shot
// ingest stream to a long-lived bidirectional session (§4.7, §9).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	remoteIP := ipFromRemoteAddr(r.RemoteAddr)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		remoteIP = strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	if h.cfg.ConnLimiter != nil && !h.cfg.ConnLimiter.Admit(remoteIP) {
		metrics.RateLimitDenialsTotal.WithLabelValues("connection").Inc()
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.cfg.ConnLimiter != nil {
			h.cfg.ConnLimiter.Release(remoteIP)
		}
		h.cfg.Logger.Warn("failed to upgrade connection to websocket", log.Fields{"remoteAddr": r.RemoteAddr, "err": err.Error()})
		return
	}
	conn.SetReadLimit(MaxFrameSize)

	sender := newWSSender(conn)
	c := h.Register(remoteIP, sender)
	metrics.ConnectionsOpenedTotal.Inc()
	metrics.ConnectionsActive.Inc()

	defer func() {
		if p := recover(); p != nil {
			h.cfg.Logger.Error("panic in connection loop, closing connection", log.Fields{"connId": c.ID, "panic": p})
			metrics.ConnectionsClosedTotal.WithLabelValues("protocol_error").Inc()
		}
		h.Unregister(c)
		metrics.ConnectionsActive.Dec()
		_ = conn.Close()
	}()

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			metrics.ConnectionsClosedTotal.WithLabelValues(closeReason(err)).Inc()
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if err := h.Dispatch(c, frame, remoteIP); err != nil {
			h.cfg.Logger.Warn("dispatch failed, closing connection", log.Fields{"connId": c.ID, "err": err.Error()})
			metrics.ConnectionsClosedTotal.WithLabelValues("protocol_error").Inc()
			return
		}
	}
}

func closeReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "normal"
	}
	return "transport_error"
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
