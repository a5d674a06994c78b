// Package wsbridge carries the bridge protocol over a websocket so content
// running in an ordinary browser tab can reach the native call surface.
//
// Inbound frames are calls: {"id":1,"fn":"isAdReady","args":[]}. Every call
// gets a reply with the same id. Messages for the content are pushed as
// {"event":"onAdRewarded","target":"","args":[]} frames.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/bridge"
	"github.com/patrickwarner/neonshell/internal/delivery"
)

// ErrSlowConsumer is returned when a connection's outbound queue is full.
var ErrSlowConsumer = errors.New("websocket client not keeping up")

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendQueue   = 64
	maxFrame    = 64 << 10
	callTimeout = 5 * time.Second
)

// Event is a message pushed to the content.
type Event struct {
	Event  string `json:"event"`
	Target string `json:"target"`
	Args   []any  `json:"args"`
}

// Handler upgrades requests to bridge connections.
type Handler struct {
	Logger  *zap.Logger
	Invoker bridge.Invoker
	// Events receives a deliverer per open connection.
	Events *delivery.Fanout

	upgrader websocket.Upgrader
}

// NewHandler creates a Handler that only accepts loopback origins.
func NewHandler(logger *zap.Logger, invoker bridge.Invoker, events *delivery.Fanout) *Handler {
	return &Handler{
		Logger:  logger.Named("wsbridge"),
		Invoker: invoker,
		Events:  events,
		upgrader: websocket.Upgrader{
			CheckOrigin: loopbackOrigin,
		},
	}
}

// loopbackOrigin accepts requests without an Origin header and those coming
// from pages served on a loopback host.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendQueue),
		closed: make(chan struct{}),
		logger: h.Logger,
	}
	c.logger = h.Logger.With(zap.String("conn_id", c.id))
	c.logger.Info("bridge client connected", zap.String("remote", r.RemoteAddr))

	h.Events.Add(c.id, c)
	defer h.Events.Remove(c.id)

	go c.writeLoop()
	c.readLoop(r.Context(), h.Invoker)
	c.logger.Info("bridge client disconnected")
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	logger *zap.Logger
}

// Deliver implements delivery.Deliverer. Delivery never blocks: if the client
// is not draining its queue the message is dropped.
func (c *conn) Deliver(msg delivery.Message) error {
	args := msg.Args
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(Event{Event: msg.Name, Target: msg.Target, Args: args})
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *conn) enqueue(b []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *conn) readLoop(ctx context.Context, invoker bridge.Invoker) {
	defer func() {
		close(c.closed)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var call bridge.Call
		if err := json.Unmarshal(data, &call); err != nil {
			c.reply(bridge.Reply{Error: "malformed frame: " + err.Error()})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		rep := bridge.Serve(callCtx, invoker, call)
		cancel()
		if rep.Error != "" {
			c.logger.Debug("bridge call failed", zap.String("fn", call.Fn), zap.String("error", rep.Error))
		}
		c.reply(rep)
	}
}

func (c *conn) reply(r bridge.Reply) {
	b, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("encode reply", zap.Error(err))
		return
	}
	if err := c.enqueue(b); err != nil {
		c.logger.Warn("reply dropped", zap.Int64("id", r.ID), zap.Error(err))
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Warn("failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
