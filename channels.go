package main

import (
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	channelLenMin = 1
	channelLenMax = 256
)

// channelManager classifies channel names and orchestrates the join,
// leave and client-event paths between the transport layer, the auth
// gateway and the presence tracker.
//
// Channel kinds, by prefix pattern: names matching a private pattern
// ("private-*", "presence-*" by default) require authorization; names
// with the "presence-" prefix additionally track membership. Everything
// else is public.
type channelManager struct {
	t        transport
	auth     *authGateway
	presence *presenceTracker

	privatePatterns []string
	clientEvents    []string
	identityKey     string
	devMode         bool
}

func newChannelManager(t transport, auth *authGateway, presence *presenceTracker, cfg *config) *channelManager {
	return &channelManager{
		t:               t,
		auth:            auth,
		presence:        presence,
		privatePatterns: cfg.PrivatePatterns,
		clientEvents:    cfg.ClientEvents,
		identityKey:     cfg.IdentityKey,
		devMode:         cfg.DevMode,
	}
}

// matchesPattern does glob-style prefix matching: everything up to the
// first '*' must be a prefix of name; a pattern without '*' must match
// exactly.
func matchesPattern(pattern, name string) bool {
	if i := strings.Index(pattern, "*"); i >= 0 {
		return strings.HasPrefix(name, pattern[:i])
	}
	return pattern == name
}

func (m *channelManager) isPrivate(channel string) bool {
	for _, pattern := range m.privatePatterns {
		if matchesPattern(pattern, channel) {
			return true
		}
	}
	return false
}

func (m *channelManager) isPresence(channel string) bool {
	return strings.HasPrefix(channel, "presence-")
}

func (m *channelManager) isClientEvent(event string) bool {
	for _, pattern := range m.clientEvents {
		if matchesPattern(pattern, event) {
			return true
		}
	}
	return false
}

func validChannelName(channel string) bool {
	if !utf8.ValidString(channel) {
		return false
	}
	n := utf8.RuneCountInString(channel)
	return channelLenMin <= n && n <= channelLenMax
}

// Join subscribes the connection to the channel. Public channels attach
// immediately. Private channels authorize first; a rejection emits a
// subscription_error carrying the status code to the requester alone,
// and the connection is never attached. Presence channels additionally
// register the member payload from the acceptance.
func (m *channelManager) Join(c *connection, channel string, auth *authPayload) {
	if channel == "" {
		return
	}
	if !validChannelName(channel) {
		logDebug("invalid channel name", zap.String("socket", c.id))
		return
	}

	if !m.isPrivate(channel) {
		m.t.joinGroup(c, channel)
		m.onJoin(c, channel)
		return
	}

	result, err := m.auth.authenticate(c, channel, auth)
	if err != nil {
		status := 0
		var rejected *authError
		if errors.As(err, &rejected) {
			status = rejected.Status
		}
		incr("auth.rejected", 1)
		c.emit(eventSubscriptionError, channel, status)
		return
	}

	// The connection may have dropped during the auth round trip.
	if c.closed() {
		return
	}

	m.t.joinGroup(c, channel)

	if m.isPresence(channel) {
		mem := parseMember(result.channelData(), m.identityKey)
		m.presence.join(c, channel, mem)
	}

	m.onJoin(c, channel)
}

// Leave unsubscribes the connection. Presence bookkeeping runs before
// the group detach so the departing entry can still see the live group.
func (m *channelManager) Leave(c *connection, channel, reason string) {
	if channel == "" {
		return
	}

	if m.isPresence(channel) {
		m.presence.leave(c, channel)
	}

	m.t.leaveGroup(c, channel)
	incr("leaves", 1)
	if m.devMode {
		logDebug("left channel", zap.String("socket", c.id),
			zap.String("channel", channel), zap.String("reason", reason))
	}
}

// ClientEvent forwards a connection-originated event to the rest of the
// channel group. Allowed only when the event name matches the client
// event pattern, the channel is private, and the sender is currently in
// the group; anything else is dropped without a response.
func (m *channelManager) ClientEvent(c *connection, ev clientEvent) {
	if ev.Event == "" || ev.Channel == "" {
		return
	}
	if !m.isClientEvent(ev.Event) || !m.isPrivate(ev.Channel) || !c.inGroup(ev.Channel) {
		incr("client_events.dropped", 1)
		return
	}
	incr("client_events", 1)
	m.t.emitToGroupExcept(c, ev.Channel, ev.Event, ev.Data)
}

func (m *channelManager) onJoin(c *connection, channel string) {
	incr("joins", 1)
	if m.devMode {
		logDebug("joined channel", zap.String("socket", c.id), zap.String("channel", channel))
	}
}
