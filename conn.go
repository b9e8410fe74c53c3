package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Wire event names. These are the client-compatible names and must not
// change.
const (
	eventSubscribe   = "subscribe"
	eventUnsubscribe = "unsubscribe"
	eventClientEvent = "client event"

	eventSubscriptionError = "subscription_error"
	eventPresenceJoining   = "presence:joining"
	eventPresenceLeaving   = "presence:leaving"
	eventPresenceList      = "presence:subscribed"
)

// frame is the envelope for every message crossing a websocket, in both
// directions.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event   string      `json:"event"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func encodeFrame(event, channel string, data interface{}) []byte {
	text, err := json.Marshal(outFrame{Event: event, Channel: channel, Data: data})
	if err != nil {
		logError("encode frame", zap.String("event", event), zap.Error(err))
		return nil
	}
	return text
}

type subscribeData struct {
	Channel string       `json:"channel"`
	Auth    *authPayload `json:"auth"`
}

type unsubscribeData struct {
	Channel string `json:"channel"`
}

type clientEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// connection is one live client link. Its reader goroutine is the only
// place join/leave requests for this connection originate, which gives
// the strict per-connection ordering of subscribe/unsubscribe effects.
type connection struct {
	id   string
	w    websocketManager
	send chan []byte
	h    *hub
	mgr  *channelManager

	// Request metadata consumed by the auth gateway.
	cookie  string
	referer string

	mu     sync.Mutex
	groups map[string]bool
	dead   bool
}

func newConnection(ws *websocket.Conn, h *hub, mgr *channelManager, r *http.Request) *connection {
	return &connection{
		id:      newSocketID(),
		w:       websocketInteractor{ws: ws},
		send:    make(chan []byte, 256),
		h:       h,
		mgr:     mgr,
		cookie:  r.Header.Get("Cookie"),
		referer: r.Header.Get("Referer"),
		groups:  make(map[string]bool),
	}
}

func newSocketID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func (c *connection) run() {
	c.h.register(c)
	incr("websockets", 1)
	go c.writer()
	c.reader()

	// Reader is done: the client disconnected or errored. Force the
	// leave path for every channel this connection is still in before
	// dropping it from the hub.
	c.markDead()
	for name := range c.groupSnapshot() {
		c.mgr.Leave(c, name, "disconnect")
	}
	c.h.unregister(c)
	decr("websockets", 1)
}

func (c *connection) reader() {
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		if err := c.readMessage(); err != nil {
			break
		}
	}
	c.w.wsClose()
}

func (c *connection) readMessage() error {
	_, message, err := c.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	c.dispatch(message)
	return nil
}

func (c *connection) dispatch(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		logDebug("unparseable frame", zap.String("socket", c.id), zap.Error(err))
		return
	}
	switch f.Event {
	case eventSubscribe:
		var data subscribeData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			logDebug("bad subscribe data", zap.String("socket", c.id), zap.Error(err))
			return
		}
		c.mgr.Join(c, data.Channel, data.Auth)
	case eventUnsubscribe:
		var data unsubscribeData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			logDebug("bad unsubscribe data", zap.String("socket", c.id), zap.Error(err))
			return
		}
		c.mgr.Leave(c, data.Channel, "unsubscribed")
	case eventClientEvent:
		var ev clientEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			logDebug("bad client event data", zap.String("socket", c.id), zap.Error(err))
			return
		}
		c.mgr.ClientEvent(c, ev)
	default:
		logDebug("unknown event", zap.String("socket", c.id), zap.String("event", f.Event))
	}
}

func (c *connection) writer() {
	sub := pings.subscribe()
	defer pings.unsubscribe(sub)
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.w.wsClose()
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.TextMessage, message); err != nil {
				c.w.wsClose()
				return
			}
			incr("conn.send", 1)
		case <-sub.tick:
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.PingMessage, nil); err != nil {
				c.w.wsClose()
				return
			}
		}
	}
}

// emit sends an event to this connection only. Used for frames directed
// at the requester: subscription_error and the presence member list.
func (c *connection) emit(event, channel string, data interface{}) {
	text := encodeFrame(event, channel, data)
	if text == nil {
		return
	}
	select {
	case c.send <- text:
	default:
		incr("drops", 1)
	}
}

func (c *connection) trackGroup(name string) {
	c.mu.Lock()
	c.groups[name] = true
	c.mu.Unlock()
}

func (c *connection) untrackGroup(name string) {
	c.mu.Lock()
	delete(c.groups, name)
	c.mu.Unlock()
}

func (c *connection) inGroup(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[name]
}

func (c *connection) groupSnapshot() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]bool, len(c.groups))
	for name := range c.groups {
		snapshot[name] = true
	}
	return snapshot
}

func (c *connection) markDead() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

// closed reports whether the connection disconnected. Checked after the
// auth round trip so a connection that dropped mid-authorization never
// gets attached to a group.
func (c *connection) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}
