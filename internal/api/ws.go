package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/docket-ai-agent/internal/agent"
	"github.com/nugget/docket-ai-agent/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity and auth are enforced on the request itself; origin
	// carries no extra signal for this API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsInbound is one chat request frame from the client.
type wsInbound struct {
	Message  string `json:"message"`
	Remember bool   `json:"remember"`
}

// wsFrame is one outbound frame. Type selects which fields are set:
// "progress", "calendar_updated", "message", or "error".
type wsFrame struct {
	Type         string `json:"type"`
	Kind         string `json:"kind,omitempty"`
	Text         string `json:"text,omitempty"`
	Response     string `json:"response,omitempty"`
	ResponseHTML string `json:"response_html,omitempty"`
	Error        string `json:"error,omitempty"`
}

// handleWS upgrades to a WebSocket session that accepts chat messages
// and streams progress while the agent works. Task changes made by
// other actors (REST calls, importers) arrive as calendar_updated
// frames via the event bus.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if owner == "" {
		// Browser WebSocket clients cannot set request headers.
		owner = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if owner == "" {
		s.errorResponse(w, http.StatusUnauthorized, "X-User-ID header or user_id query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.logger.Warn("websocket upgrade failed", "owner", owner, "error", err)
		return
	}

	s.metrics.WSConnectionOpened()
	defer s.metrics.WSConnectionClosed()
	s.logger.Info("websocket connected", "owner", owner)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var busCh <-chan events.Event
	if s.bus != nil {
		busCh = s.bus.Subscribe(64)
		defer s.bus.Unsubscribe(busCh)
	}

	c := &wsSession{
		server: s,
		owner:  owner,
		conn:   conn,
		out:    make(chan wsFrame, 64),
	}

	go c.writeLoop(ctx)
	go c.forwardBusEvents(ctx, busCh)
	c.readLoop(ctx)

	s.logger.Info("websocket disconnected", "owner", owner)
}

// wsSession is one connected WebSocket client. All writes go through
// the out channel; writeLoop is the only goroutine touching the
// connection's write side.
type wsSession struct {
	server *Server
	owner  string
	conn   *websocket.Conn
	out    chan wsFrame
}

// send queues a frame, dropping it when the client cannot keep up.
// Progress frames are advisory; stalling the agent on a slow client
// would be worse than a missed frame.
func (c *wsSession) send(f wsFrame) {
	select {
	case c.out <- f:
	default:
	}
}

func (c *wsSession) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		// Refresh the deadline each pass: a long agent run between
		// reads must not count against the client's liveness.
		if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return
		}

		var in wsInbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("websocket closed normally", "owner", c.owner)
			} else {
				c.server.logger.Debug("websocket read ended", "owner", c.owner, "error", err)
			}
			return
		}

		if strings.TrimSpace(in.Message) == "" {
			c.send(wsFrame{Type: "error", Error: "message is required"})
			continue
		}
		c.handleChat(ctx, in)
	}
}

// handleChat runs one agent exchange, streaming progress frames as the
// loop works. Runs on the read goroutine so a client gets one exchange
// at a time.
func (c *wsSession) handleChat(ctx context.Context, in wsInbound) {
	if reply, blocked := c.server.indexingGate(ctx, c.owner); blocked {
		c.send(wsFrame{Type: "message", Response: reply, ResponseHTML: c.server.renderHTML(reply)})
		return
	}

	progress := func(p agent.Progress) {
		switch p.Kind {
		case agent.ProgressCalendarUpdated:
			c.send(wsFrame{Type: "calendar_updated"})
		default:
			c.send(wsFrame{Type: "progress", Kind: string(p.Kind), Text: p.Text})
		}
	}

	text, err := c.server.agent.ProcessMessage(ctx, c.owner, in.Message, in.Remember, progress)
	if err != nil {
		c.server.recordProviderError(err)
		c.server.logger.Error("websocket chat failed", "owner", c.owner, "error", err)
		c.send(wsFrame{Type: "error", Error: "agent error: " + err.Error()})
		return
	}

	c.send(wsFrame{Type: "message", Response: text, ResponseHTML: c.server.renderHTML(text)})
}

func (c *wsSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(wsWriteWait)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case f := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardBusEvents turns task changes from other actors into
// calendar_updated frames for this client. Agent-sourced changes are
// skipped: the chatting client already got them through its progress
// callback, and duplicating them would double-refresh the UI.
func (c *wsSession) forwardBusEvents(ctx context.Context, ch <-chan events.Event) {
	if ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !e.TaskChanged() || e.Source == events.SourceAgent {
				continue
			}
			if owner, _ := e.Data["owner"].(string); owner != c.owner {
				continue
			}
			c.send(wsFrame{Type: "calendar_updated"})
		}
	}
}
