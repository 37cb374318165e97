package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/ai4ce/vpr-collector/pkg/streaming"
)

const (
	outboxLimit    = 10_000
	maxInflight    = 256
	ackChSize      = 16
	maxReconnect   = 10
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	ackTimeout     = 10 * time.Second
)

// link is one dialed socket. gone is closed when the socket is abandoned,
// which stops the loops serving it.
type link struct {
	conn *ws.Conn
	gone chan struct{}
}

// connection keeps a session streaming across socket failures. Exactly one
// read loop and one write loop serve the current link.
type connection struct {
	mu       sync.Mutex
	link     *link
	closed   bool
	startMsg []byte // replayed first on every new link

	out      *outbox
	inflight *inflight
	ackCh    chan streaming.AckMessage
	done     chan struct{}

	wsURL   string
	secret  string
	backoff time.Duration

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		out:      newOutbox(outboxLimit),
		inflight: newInflight(maxInflight),
		ackCh:    make(chan streaming.AckMessage, ackChSize),
		done:     make(chan struct{}),
		backoff:  initialBackoff,
		logger:   logger,
	}
}

func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.mu.Lock()
	l := &link{conn: conn, gone: make(chan struct{})}
	c.link = l
	c.mu.Unlock()

	c.serve(l)
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) serve(l *link) {
	go c.writeLoop(l)
	go c.readLoop(l)
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop sends outbox messages in order. Frame messages enter the
// inflight window before the write so a failed write is replayed too.
func (c *connection) writeLoop(l *link) {
	for {
		select {
		case <-l.gone:
			return
		default:
		}

		m, ok := c.out.pop()
		if !ok {
			select {
			case <-c.done:
				return
			case <-l.gone:
				return
			case <-c.out.ready:
			}
			continue
		}

		if m.lane == laneFrame {
			c.inflight.add(m.key, m.data)
		}
		if err := write(l.conn, m.data); err != nil {
			c.lost(l, err)
			return
		}
	}
}

// readLoop routes acks. Frame acks release the inflight window; session
// acks go to whoever waits in sendAndWait.
func (c *connection) readLoop(l *link) {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			c.lost(l, err)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Non-ack message received", "raw", string(raw))
			continue
		}
		if ack.For == streaming.TypeFrame {
			c.inflight.ack(frameKey{sensor: ack.SensorID, frame: ack.Frame})
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// lost abandons l. Only the first caller for the current link starts a
// reconnect, so a read and a write failing together reconnect once.
func (c *connection) lost(l *link, err error) {
	c.mu.Lock()
	current := c.link == l && !c.closed
	if current {
		c.link = nil
		close(l.gone)
	}
	c.mu.Unlock()
	_ = l.conn.Close()

	if !current {
		return
	}
	c.logger.Warn("WebSocket connection lost", "error", err)
	go c.reconnect()
}

func (c *connection) reconnect() {
	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err == nil {
			var replayed int
			replayed, err = c.resume(conn)
			if err == nil {
				c.logger.Info("WebSocket reconnected", "attempt", attempt, "replayedFrames", replayed)
				return
			}
			_ = conn.Close()
		}
		c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
		backoff = min(backoff*2, maxBackoff)
	}
	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect,
		"queued", c.out.len(), "unackedFrames", c.inflight.len())
}

// resume replays start_session and the unacked frames on conn, then makes
// it the current link. The server keys every later message on the session.
func (c *connection) resume(conn *ws.Conn) (int, error) {
	c.mu.Lock()
	start := c.startMsg
	c.mu.Unlock()

	replayed := 0
	if start != nil {
		if err := write(conn, start); err != nil {
			return 0, fmt.Errorf("replay start_session: %w", err)
		}
		for _, data := range c.inflight.pending() {
			if err := write(conn, data); err != nil {
				return replayed, fmt.Errorf("replay frame: %w", err)
			}
			replayed++
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return replayed, nil
	}
	l := &link{conn: conn, gone: make(chan struct{})}
	c.link = l
	c.mu.Unlock()

	c.serve(l)
	return replayed, nil
}

// begin remembers the start_session message for replay.
func (c *connection) begin(start []byte) {
	c.mu.Lock()
	c.startMsg = start
	c.mu.Unlock()
}

// end forgets the session; nothing is replayed after it.
func (c *connection) end() {
	c.mu.Lock()
	c.startMsg = nil
	c.mu.Unlock()
	c.inflight.reset()
}

// send queues m without blocking. Shed messages are counted and reported
// every 1000 per lane.
func (c *connection) send(m message) {
	l, shed := c.out.push(m)
	if !shed {
		return
	}
	if n := c.out.shedCount(l); n%1000 == 1 {
		c.logger.Warn("WebSocket outbox full, shedding messages", "lane", l.String(), "shed", n)
	}
}

// sendAndWait queues a session message and blocks until the server acks
// it or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(message{lane: laneSession, data: data})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and stops every loop. Safe to call twice.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	l := c.link
	c.link = nil
	if l != nil {
		close(l.gone)
	}
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	_ = l.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return l.conn.Close()
}
