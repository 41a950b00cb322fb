/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// wsConn is the part of *websocket.Conn the hub uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	id    string
	addr  string
	conn  wsConn
	send  chan []byte
	alive atomic.Bool
}

// Hub tracks every open viewer and editor connection. All sends go through
// buffered channels under mu, so a slow connection is dropped rather than
// stalling the others.
type Hub struct {
	cfg        *Config
	board      *Board
	dispatcher *Dispatcher
	metrics    *metrics

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func newHub(cfg *Config, board *Board, dispatcher *Dispatcher, m *metrics) *Hub {
	return &Hub{
		cfg:        cfg,
		board:      board,
		dispatcher: dispatcher,
		metrics:    m,
		clients:    make(map[*Client]struct{}),
	}
}

func (h *Hub) newClient(conn wsConn, addr string) *Client {
	c := &Client{
		id:   uuid.NewString(),
		addr: addr,
		conn: conn,
		send: make(chan []byte, h.cfg.sendBuffer),
	}
	c.alive.Store(true)

	return c
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// register adds c and queues the current menu, if there is one, as its
// first message.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	h.metrics.connections.Set(float64(len(h.clients)))

	data, err := h.board.Encode()
	switch {
	case err == nil:
		c.send <- data
	case errors.Is(err, ErrNotReady):
	default:
		errorf("encoding menu for %s: %v", c.id, err)
	}

	logf(h.cfg, "WS: %s connected from %s (%d connected)", c.id, c.addr, len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removeLocked(c) {
		logf(h.cfg, "WS: %s disconnected (%d connected)", c.id, len(h.clients))
	}
}

func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}

	delete(h.clients, c)
	close(c.send)
	h.metrics.connections.Set(float64(len(h.clients)))

	return true
}

func (h *Hub) queueLocked(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.removeLocked(c)
		h.metrics.reaped.WithLabelValues(reapSlow).Inc()
		logf(h.cfg, "WS: Dropped slow connection %s", c.id)
		return false
	}
}

// broadcast sends the whole menu to every registered connection and returns
// how many copies were queued. The menu is encoded while mu is held, so
// concurrent broadcasts go out in order and the last one carries the latest
// state.
func (h *Hub) broadcast() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.board.Encode()
	if err != nil {
		errorf("encoding menu for broadcast: %v", err)
		return 0
	}

	sent := 0
	for c := range h.clients {
		if h.queueLocked(c, data) {
			sent++
		}
	}

	h.metrics.broadcasts.Inc()
	h.metrics.sends.Add(float64(sent))
	logf(h.cfg, "WS: Broadcast menu (%s) to %d connections", humanReadableSize(int64(len(data))), sent)

	return sent
}

// reply sends v to c alone. Replies to connections that already left are
// dropped.
func (h *Hub) reply(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errorf("encoding reply for %s: %v", c.id, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		logf(h.cfg, "WS: Discarded reply to departed connection %s", c.id)
		return
	}
	h.queueLocked(c, data)
}

// probe closes connections that have not answered since the last probe and
// pings the rest.
func (h *Hub) probe() {
	var ping []*Client

	h.mu.Lock()
	for c := range h.clients {
		if !c.alive.Swap(false) {
			h.removeLocked(c)
			_ = c.conn.Close()
			h.metrics.reaped.WithLabelValues(reapProbe).Inc()
			logf(h.cfg, "WS: Reaped unresponsive connection %s", c.id)
			continue
		}
		ping = append(ping, c)
	}
	h.mu.Unlock()

	for _, c := range ping {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			logf(h.cfg, "WS: Ping to %s failed: %v", c.id, err)
		}
	}
}

// closeAll disconnects every client, used on shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
		_ = c.conn.Close()
	}
}

// run probes connections until ctx is done, then closes them all.
func (h *Hub) run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.probe()
		}
	}
}

// serve owns conn until it closes.
func (h *Hub) serve(ctx context.Context, conn wsConn, addr string) {
	c := h.newClient(conn, addr)
	h.register(c)

	go c.writePump()
	c.readPump(ctx, h)
}

func (c *Client) readPump(ctx context.Context, h *Hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.alive.Store(true)

		res := h.dispatcher.Dispatch(ctx, data)
		if res.Reply != nil {
			h.reply(c, res.Reply)
		}
		if res.Broadcast {
			h.broadcast()
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "WS: Upgrade for %s failed: %v", realIP(r), err)
			return
		}

		hub.serve(r.Context(), conn, realIP(r))
	}
}
