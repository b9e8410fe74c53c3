package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testConfig() *config {
	cfg := &config{}
	cfg.withDefaults()
	return cfg
}

func newTestManager(t *fakeTransport, cfg *config) *channelManager {
	gateway := newAuthGateway(cfg)
	presence := newPresenceTracker(newMemoryStore(), t, cfg.IdentityKey)
	return newChannelManager(t, gateway, presence, cfg)
}

func TestIsPrivate(t *testing.T) {
	mgr := newTestManager(newFakeTransport(), testConfig())

	private := []string{"private-orders", "private-", "presence-room", "presence-"}
	for _, name := range private {
		if !mgr.isPrivate(name) {
			t.Fatal("Expectation: private, Received: public for", name)
		}
	}

	public := []string{"orders", "privateorders", "president-club", "public-private-x", ""}
	for _, name := range public {
		if mgr.isPrivate(name) {
			t.Fatal("Expectation: public, Received: private for", name)
		}
	}
}

func TestIsPresence(t *testing.T) {
	mgr := newTestManager(newFakeTransport(), testConfig())

	if !mgr.isPresence("presence-room") {
		t.Fatal("Expectation: presence, Received: not presence")
	}
	for _, name := range []string{"private-room", "room", "xpresence-room"} {
		if mgr.isPresence(name) {
			t.Fatal("Expectation: not presence, Received: presence for", name)
		}
	}
}

func TestIsClientEvent(t *testing.T) {
	mgr := newTestManager(newFakeTransport(), testConfig())

	if !mgr.isClientEvent("client-typing") {
		t.Fatal("Expectation: client event, Received: not client event")
	}
	if mgr.isClientEvent("typing") || mgr.isClientEvent("server-client-x") {
		t.Fatal("Expectation: not client event, Received: client event")
	}
}

func TestJoinPublicChannel(t *testing.T) {
	ft := newFakeTransport()
	mgr := newTestManager(ft, testConfig())
	c := newTestConnection("s1")

	mgr.Join(c, "orders", nil)

	if !ft.groups["orders"][c] {
		t.Fatal("Expectation: connection in group, Received: not in group")
	}
	if !c.inGroup("orders") {
		t.Fatal("Expectation: connection tracks group, Received: not tracked")
	}
}

func TestJoinEmptyChannelIsNoop(t *testing.T) {
	ft := newFakeTransport()
	mgr := newTestManager(ft, testConfig())
	c := newTestConnection("s1")

	mgr.Join(c, "", nil)

	if len(ft.groups) != 0 {
		t.Fatal("Expectation: 0 groups, Received:", len(ft.groups))
	}
}

func TestAuthRejectionBlocksAttachment(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer auth.Close()

	cfg := testConfig()
	cfg.AuthHosts = []string{auth.URL}
	ft := newFakeTransport()
	mgr := newTestManager(ft, cfg)
	c := newTestConnection("s1")

	mgr.Join(c, "private-orders", nil)

	if len(ft.groups["private-orders"]) != 0 {
		t.Fatal("Expectation: 0 connections in group, Received:", len(ft.groups["private-orders"]))
	}

	f := readFrame(t, c)
	if f.Event != "subscription_error" {
		t.Fatal("Expectation: subscription_error, Received:", f.Event)
	}
	if f.Channel != "private-orders" {
		t.Fatal("Expectation: private-orders, Received:", f.Channel)
	}
	var status int
	if err := json.Unmarshal(f.Data, &status); err != nil || status != 403 {
		t.Fatal("Expectation: status 403, Received:", string(f.Data))
	}
	assertNoFrame(t, c)
}

func TestAuthTransportErrorSignalsStatusZero(t *testing.T) {
	cfg := testConfig()
	cfg.AuthHosts = []string{"http://127.0.0.1:1"} // nothing listens here
	ft := newFakeTransport()
	mgr := newTestManager(ft, cfg)
	c := newTestConnection("s1")

	mgr.Join(c, "private-orders", nil)

	f := readFrame(t, c)
	if f.Event != "subscription_error" {
		t.Fatal("Expectation: subscription_error, Received:", f.Event)
	}
	var status int
	if err := json.Unmarshal(f.Data, &status); err != nil || status != 0 {
		t.Fatal("Expectation: status 0, Received:", string(f.Data))
	}
}

func TestJoinPresenceChannel(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"channel_data":"{\"user_id\":\"u1\",\"name\":\"Uma\"}"}`))
	}))
	defer auth.Close()

	cfg := testConfig()
	cfg.AuthHosts = []string{auth.URL}
	ft := newFakeTransport()
	mgr := newTestManager(ft, cfg)
	c := newTestConnection("s1")

	mgr.Join(c, "presence-room", nil)

	if !ft.groups["presence-room"][c] {
		t.Fatal("Expectation: connection in group, Received: not in group")
	}

	f := readFrame(t, c)
	if f.Event != "presence:subscribed" {
		t.Fatal("Expectation: presence:subscribed, Received:", f.Event)
	}
	var list []member
	if err := json.Unmarshal(f.Data, &list); err != nil {
		t.Fatal("Expectation: member list, Received:", string(f.Data))
	}
	if len(list) != 1 || list[0].identity("user_id") != "u1" {
		t.Fatal("Expectation: [u1], Received:", list)
	}
	if list[0].socketID() != "" {
		t.Fatal("Expectation: socketId stripped, Received:", list[0].socketID())
	}
}

func TestDisconnectedDuringAuthNeverAttaches(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer auth.Close()

	cfg := testConfig()
	cfg.AuthHosts = []string{auth.URL}
	ft := newFakeTransport()
	mgr := newTestManager(ft, cfg)
	c := newTestConnection("s1")
	c.markDead()

	mgr.Join(c, "private-orders", nil)

	if len(ft.groups["private-orders"]) != 0 {
		t.Fatal("Expectation: 0 connections in group, Received:", len(ft.groups["private-orders"]))
	}
}

func TestClientEventGating(t *testing.T) {
	ft := newFakeTransport()
	mgr := newTestManager(ft, testConfig())
	sender := newTestConnection("s1")
	payload := json.RawMessage(`{"typing":true}`)

	// Not a member of the channel: dropped.
	mgr.ClientEvent(sender, clientEvent{Event: "client-typing", Channel: "private-chat-1", Data: payload})
	if len(ft.emits) != 0 {
		t.Fatal("Expectation: 0 emits, Received:", len(ft.emits))
	}

	ft.joinGroup(sender, "private-chat-1")

	// Member, client event on private channel: broadcast to others.
	mgr.ClientEvent(sender, clientEvent{Event: "client-typing", Channel: "private-chat-1", Data: payload})
	if len(ft.emits) != 1 {
		t.Fatal("Expectation: 1 emit, Received:", len(ft.emits))
	}
	e := ft.emits[0]
	if e.event != "client-typing" || e.name != "private-chat-1" || e.except != sender {
		t.Fatal("Expectation: client-typing to others on private-chat-1, Received:", e)
	}
	if string(e.data.(json.RawMessage)) != `{"typing":true}` {
		t.Fatal("Expectation: verbatim payload, Received:", e.data)
	}

	// Event name outside the client-* pattern: dropped.
	mgr.ClientEvent(sender, clientEvent{Event: "typing", Channel: "private-chat-1", Data: payload})
	// Public channel: dropped.
	ft.joinGroup(sender, "lobby")
	mgr.ClientEvent(sender, clientEvent{Event: "client-typing", Channel: "lobby", Data: payload})

	if len(ft.emits) != 1 {
		t.Fatal("Expectation: 1 emit, Received:", len(ft.emits))
	}
}

func TestLeaveDetachesFromGroup(t *testing.T) {
	ft := newFakeTransport()
	mgr := newTestManager(ft, testConfig())
	c := newTestConnection("s1")

	mgr.Join(c, "orders", nil)
	mgr.Leave(c, "orders", "unsubscribed")

	if len(ft.groups["orders"]) != 0 {
		t.Fatal("Expectation: 0 connections in group, Received:", len(ft.groups["orders"]))
	}
	if c.inGroup("orders") {
		t.Fatal("Expectation: group untracked, Received: tracked")
	}
}
