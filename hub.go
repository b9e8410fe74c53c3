package main

import (
	"fmt"
)

// Hub commands. Every mutation of the group table flows through the hub
// queue, so group membership for any channel is only ever touched by the
// hub goroutine.
const (
	REGISTER = iota
	UNREGISTER
	JOIN
	LEAVE
	EMIT
	MEMBERS
	LOOKUP
	STATS
)

type queue chan command

type command struct {
	cmd    int
	conn   *connection
	name   string // group (channel) name
	text   []byte // encoded frame for EMIT
	except *connection

	done    chan struct{}
	members chan []string
	found   chan *connection
	stats   chan hubStats
}

type hubStats struct {
	connections int
	channels    map[string]int
}

type hub struct {
	queue  queue
	groups map[string]map[*connection]bool
	conns  map[string]*connection // socket id -> connection
}

func newHub() *hub {
	return &hub{
		queue:  make(queue, 64),
		groups: make(map[string]map[*connection]bool),
		conns:  make(map[string]*connection),
	}
}

func (h *hub) run() {
	for cmd := range h.queue {
		switch cmd.cmd {
		case REGISTER:
			h.addConn(cmd.conn)
			close(cmd.done)
		case UNREGISTER:
			h.removeConn(cmd.conn)
			close(cmd.done)
		case JOIN:
			h.addToGroup(cmd.conn, cmd.name)
			close(cmd.done)
		case LEAVE:
			h.removeFromGroup(cmd.conn, cmd.name)
			close(cmd.done)
		case EMIT:
			h.emit(cmd.name, cmd.text, cmd.except)
		case MEMBERS:
			cmd.members <- h.memberIDs(cmd.name)
		case LOOKUP:
			cmd.found <- h.conns[cmd.name]
		case STATS:
			cmd.stats <- h.snapshot()
		default:
			panic(fmt.Sprintf("unexpected hub cmd: %v", cmd))
		}
	}
}

func (h *hub) addConn(c *connection) {
	h.conns[c.id] = c
}

func (h *hub) removeConn(c *connection) {
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	for name := range c.groupSnapshot() {
		h.removeFromGroup(c, name)
	}
	close(c.send)
}

func (h *hub) addToGroup(c *connection, name string) {
	if _, ok := h.conns[c.id]; !ok {
		// Connection unregistered while its join was queued.
		return
	}
	if _, ok := h.groups[name]; !ok {
		h.groups[name] = make(map[*connection]bool)
		incr("channels.active", 1)
	}
	h.groups[name][c] = true
	c.trackGroup(name)
}

func (h *hub) removeFromGroup(c *connection, name string) {
	conns, ok := h.groups[name]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	c.untrackGroup(name)
	if len(conns) == 0 {
		delete(h.groups, name)
		decr("channels.active", 1)
	}
}

func (h *hub) emit(name string, text []byte, except *connection) {
	conns, ok := h.groups[name]
	if !ok {
		incr("drops", 1)
		return
	}
	for c := range conns {
		if c == except {
			continue
		}
		select {
		case c.send <- text:
		default:
			// Slow consumer: drop the frame rather than stall the hub.
			incr("drops", 1)
		}
	}
}

func (h *hub) memberIDs(name string) []string {
	conns, ok := h.groups[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(conns))
	for c := range conns {
		ids = append(ids, c.id)
	}
	return ids
}

func (h *hub) snapshot() hubStats {
	stats := hubStats{
		connections: len(h.conns),
		channels:    make(map[string]int, len(h.groups)),
	}
	for name, conns := range h.groups {
		stats.channels[name] = len(conns)
	}
	return stats
}

// transport is the capability surface the channel manager, presence
// tracker and broadcast router consume. The hub implements it by pushing
// commands onto its queue; joins and leaves block until applied so a
// caller observes its own side effects in order.
type transport interface {
	joinGroup(c *connection, name string)
	leaveGroup(c *connection, name string)
	emitToGroup(name, event string, data interface{})
	emitToGroupExcept(except *connection, name, event string, data interface{})
	groupMembers(name string) []string
	connByID(id string) *connection
}

func (h *hub) register(c *connection) {
	done := make(chan struct{})
	h.queue <- command{cmd: REGISTER, conn: c, done: done}
	<-done
}

func (h *hub) unregister(c *connection) {
	done := make(chan struct{})
	h.queue <- command{cmd: UNREGISTER, conn: c, done: done}
	<-done
}

func (h *hub) joinGroup(c *connection, name string) {
	done := make(chan struct{})
	h.queue <- command{cmd: JOIN, conn: c, name: name, done: done}
	<-done
}

func (h *hub) leaveGroup(c *connection, name string) {
	done := make(chan struct{})
	h.queue <- command{cmd: LEAVE, conn: c, name: name, done: done}
	<-done
}

func (h *hub) emitToGroup(name, event string, data interface{}) {
	if text := encodeFrame(event, name, data); text != nil {
		h.queue <- command{cmd: EMIT, name: name, text: text}
	}
}

func (h *hub) emitToGroupExcept(except *connection, name, event string, data interface{}) {
	if text := encodeFrame(event, name, data); text != nil {
		h.queue <- command{cmd: EMIT, name: name, text: text, except: except}
	}
}

func (h *hub) groupMembers(name string) []string {
	reply := make(chan []string, 1)
	h.queue <- command{cmd: MEMBERS, name: name, members: reply}
	return <-reply
}

func (h *hub) connByID(id string) *connection {
	reply := make(chan *connection, 1)
	h.queue <- command{cmd: LOOKUP, name: id, found: reply}
	return <-reply
}

func (h *hub) stats() hubStats {
	reply := make(chan hubStats, 1)
	h.queue <- command{cmd: STATS, stats: reply}
	return <-reply
}
