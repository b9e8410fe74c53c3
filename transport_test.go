package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeTransport records group membership and emits in-process, standing
// in for the hub in manager, presence and router tests.
type fakeTransport struct {
	mu     sync.Mutex
	groups map[string]map[*connection]bool
	conns  map[string]*connection
	emits  []emitRecord
}

type emitRecord struct {
	name   string
	event  string
	data   interface{}
	except *connection
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		groups: make(map[string]map[*connection]bool),
		conns:  make(map[string]*connection),
	}
}

func (ft *fakeTransport) joinGroup(c *connection, name string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if _, ok := ft.groups[name]; !ok {
		ft.groups[name] = make(map[*connection]bool)
	}
	ft.groups[name][c] = true
	ft.conns[c.id] = c
	c.trackGroup(name)
}

func (ft *fakeTransport) leaveGroup(c *connection, name string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.groups[name], c)
	c.untrackGroup(name)
}

func (ft *fakeTransport) emitToGroup(name, event string, data interface{}) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.emits = append(ft.emits, emitRecord{name: name, event: event, data: data})
}

func (ft *fakeTransport) emitToGroupExcept(except *connection, name, event string, data interface{}) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.emits = append(ft.emits, emitRecord{name: name, event: event, data: data, except: except})
}

func (ft *fakeTransport) groupMembers(name string) []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var ids []string
	for c := range ft.groups[name] {
		ids = append(ids, c.id)
	}
	return ids
}

func (ft *fakeTransport) connByID(id string) *connection {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.conns[id]
}

func (ft *fakeTransport) emitted(event string) []emitRecord {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []emitRecord
	for _, e := range ft.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestConnection(id string) *connection {
	return &connection{
		id:     id,
		send:   make(chan []byte, 256),
		groups: make(map[string]bool),
	}
}

// readFrame pops the next frame directed at the connection.
func readFrame(t *testing.T, c *connection) frame {
	t.Helper()
	select {
	case text := <-c.send:
		var f frame
		if err := json.Unmarshal(text, &f); err != nil {
			t.Fatal("Expectation: valid frame JSON, Received:", string(text))
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("Expectation: frame on send channel, Received: timeout")
	}
	return frame{}
}

func assertNoFrame(t *testing.T, c *connection) {
	t.Helper()
	select {
	case text := <-c.send:
		t.Fatal("Expectation: no frame, Received:", string(text))
	default:
	}
}
