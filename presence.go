package main

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// presenceTracker maintains the deduplicated member list of each
// presence channel. Member lists live in the store under
// "<channel>:members" as JSON arrays; every entry carries the socketId
// of the connection that produced it.
//
// A member (identity) can be represented by several connections at
// once. The "joining" broadcast fires only for the first connection of
// an identity; the "leaving" broadcast only after the last one is gone.
//
// All read-modify-write sequences against a channel's list are
// serialized by a per-channel mutex, so concurrent joins and leaves on
// the same channel cannot lose updates.
type presenceTracker struct {
	store       store
	t           transport
	identityKey string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPresenceTracker(s store, t transport, identityKey string) *presenceTracker {
	return &presenceTracker{
		store:       s,
		t:           t,
		identityKey: identityKey,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (p *presenceTracker) channelLock(channel string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[channel]
	if !ok {
		l = &sync.Mutex{}
		p.locks[channel] = l
	}
	return l
}

func membersKey(channel string) string {
	return channel + ":members"
}

// join records a connection's membership and notifies the channel.
// The requester always receives the deduplicated member list as
// presence:subscribed; the rest of the group receives presence:joining
// only if this is the identity's first connection.
func (p *presenceTracker) join(c *connection, channel string, mem member) {
	if mem == nil {
		logWarn("presence join without member data",
			zap.String("socket", c.id), zap.String("channel", channel))
		return
	}

	l := p.channelLock(channel)
	l.Lock()
	defer l.Unlock()

	wasMember := p.isMemberLocked(channel, mem)

	list, err := p.load(channel)
	if err != nil {
		logError("presence member list read", zap.String("channel", channel), zap.Error(err))
		incr("store.errors", 1)
		return
	}
	list = append(list, mem.withSocket(c.id))
	p.save(channel, list)

	c.emit(eventPresenceList, channel, dedupNewestFirst(list, p.identityKey))

	if !wasMember {
		p.t.emitToGroupExcept(c, channel, eventPresenceJoining, mem.stripped())
	}
}

// leave removes the connection's entry and, if no other connection
// shares the identity, broadcasts presence:leaving to the whole group.
// Returns the departing member (without socketId) or nil.
func (p *presenceTracker) leave(c *connection, channel string) member {
	l := p.channelLock(channel)
	l.Lock()
	defer l.Unlock()

	list, err := p.load(channel)
	if err != nil {
		logError("presence member list read", zap.String("channel", channel), zap.Error(err))
		incr("store.errors", 1)
		return nil
	}

	var departing member
	remaining := list[:0]
	for _, entry := range list {
		if departing == nil && entry.socketID() == c.id {
			departing = entry
			continue
		}
		remaining = append(remaining, entry)
	}
	p.save(channel, remaining)

	if departing == nil {
		return nil
	}

	stripped := departing.stripped()
	if !p.isMemberLocked(channel, departing) {
		p.t.emitToGroup(channel, eventPresenceLeaving, stripped)
	}
	return stripped
}

// isMember reports whether any live connection represents the member's
// identity on the channel. Stale entries are pruned as a side effect.
func (p *presenceTracker) isMember(channel string, mem member) bool {
	l := p.channelLock(channel)
	l.Lock()
	defer l.Unlock()
	return p.isMemberLocked(channel, mem)
}

func (p *presenceTracker) isMemberLocked(channel string, mem member) bool {
	list, err := p.load(channel)
	if err != nil {
		logError("presence member list read", zap.String("channel", channel), zap.Error(err))
		incr("store.errors", 1)
		return false
	}
	list = p.removeInactive(channel, list)
	id := mem.identity(p.identityKey)
	for _, entry := range list {
		if entry.identity(p.identityKey) == id {
			return true
		}
	}
	return false
}

// removeInactive drops entries whose socketId no longer corresponds to
// a connection in the channel's group, queried live from the transport
// layer, and persists the pruned list.
func (p *presenceTracker) removeInactive(channel string, list []member) []member {
	live := make(map[string]bool)
	for _, id := range p.t.groupMembers(channel) {
		live[id] = true
	}
	pruned := list[:0]
	for _, entry := range list {
		if live[entry.socketID()] {
			pruned = append(pruned, entry)
		}
	}
	p.save(channel, pruned)
	return pruned
}

// members returns the stored list for a channel, unpruned.
func (p *presenceTracker) members(channel string) ([]member, error) {
	data, err := p.store.Get(context.Background(), membersKey(channel))
	if err != nil {
		return nil, err
	}
	return decodeMembers(data)
}

func (p *presenceTracker) load(channel string) ([]member, error) {
	return p.members(channel)
}

// save persists best-effort: a store failure is logged and the
// operation proceeds, matching the fire-and-forget persist contract.
func (p *presenceTracker) save(channel string, list []member) {
	data, err := encodeMembers(list)
	if err != nil {
		logError("presence member list encode", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := p.store.Set(context.Background(), membersKey(channel), data); err != nil {
		logError("presence member list write", zap.String("channel", channel), zap.Error(err))
		incr("store.errors", 1)
	}
}
