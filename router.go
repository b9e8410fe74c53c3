package main

import (
	"encoding/json"
)

// brokerMessage is the normalized inbound event shape shared by every
// subscriber: the HTTP broadcast endpoint, Redis pub/sub, NATS and
// Kafka all decode into this.
type brokerMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Socket string          `json:"socket,omitempty"`
}

// broadcastFunc is the callback handed to subscribers, invoked once per
// inbound event.
type broadcastFunc func(channel string, msg *brokerMessage) bool

// broadcastRouter forwards normalized inbound events to the transport
// layer. When the message is tagged with an origin socket that is still
// connected, that connection is excluded from the fan-out; otherwise
// the whole group receives it.
type broadcastRouter struct {
	t transport
}

func newBroadcastRouter(t transport) *broadcastRouter {
	return &broadcastRouter{t: t}
}

func (r *broadcastRouter) route(channel string, msg *brokerMessage) bool {
	if channel == "" || !validChannelName(channel) || msg == nil || msg.Event == "" {
		return false
	}

	if msg.Socket != "" {
		if origin := r.t.connByID(msg.Socket); origin != nil {
			r.t.emitToGroupExcept(origin, channel, msg.Event, msg.Data)
			incr("broadcasts", 1)
			return true
		}
	}

	r.t.emitToGroup(channel, msg.Event, msg.Data)
	incr("broadcasts", 1)
	return true
}
