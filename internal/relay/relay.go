// Package relay forwards transcript events to a companion WebSocket
// server. The connection is maintained in the background with a fixed
// reconnect interval; transcripts sent while disconnected are dropped.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dzpline/whisper-client/internal/config"
)

// ErrNotConnected is returned by sends while the relay has no live
// connection.
var ErrNotConnected = errors.New("relay: not connected")

// TranscriptSegment is one recognized span on the wire. Start and End
// are seconds on the capture timeline.
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type connectMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type transcriptMessage struct {
	Type      string              `json:"type"`
	UserID    string              `json:"user_id,omitempty"`
	SessionID string              `json:"session_id"`
	Content   string              `json:"content"`
	Language  string              `json:"language,omitempty"`
	Segments  []TranscriptSegment `json:"segments,omitempty"`
}

// Client is a reconnecting WebSocket client for the transcript relay.
type Client struct {
	cfg config.RelayConfig
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a relay client. Call Start to begin connecting.
func New(cfg config.RelayConfig, log *slog.Logger) *Client {
	return &Client{
		cfg:  cfg,
		log:  log.With(slog.String("component", "relay")),
		done: make(chan struct{}),
	}
}

// Start launches the background connect loop.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Client) run() {
	defer c.wg.Done()

	interval := time.Duration(c.cfg.ReconnectMS) * time.Millisecond
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.connectAndListen(); err != nil {
			c.log.Warn("relay connection lost",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", interval))
		} else {
			return
		}

		select {
		case <-c.done:
			return
		case <-time.After(interval):
		}
	}
}

// connectAndListen dials the server, announces the client, and reads
// until the connection drops. It returns nil only on shutdown.
func (c *Client) connectAndListen() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return nil
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("connected to relay server", slog.String("url", c.cfg.URL))

	if err := c.sendJSON(connectMessage{Type: "connect", UserID: c.cfg.UserID, Name: c.cfg.Name}); err != nil {
		c.detach(conn)
		return fmt.Errorf("announce: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			select {
			case <-c.done:
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		c.log.Debug("relay server message", slog.String("payload", string(msg)))
	}
}

// detach clears the active connection if it is still conn.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// Connected reports whether a live connection exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendTranscript forwards one transcript event. Events sent while the
// relay is disconnected are dropped with a warning; relay faults never
// propagate to the pipeline.
func (c *Client) SendTranscript(sessionID, content, language string, segments []TranscriptSegment) {
	msg := transcriptMessage{
		Type:      "transcript",
		UserID:    c.cfg.UserID,
		SessionID: sessionID,
		Content:   content,
		Language:  language,
		Segments:  segments,
	}
	err := c.sendJSON(msg)
	switch {
	case errors.Is(err, ErrNotConnected):
		c.log.Warn("transcript dropped, relay not connected")
	case err != nil:
		c.log.Warn("transcript send failed", slog.String("error", err.Error()))
	}
}

func (c *Client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

// Close shuts the connect loop down and closes any live connection.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}
