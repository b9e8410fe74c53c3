package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var startedAt = time.Now()

func newHandler(cfg *config, h *hub, mgr *channelManager, router *broadcastRouter) http.Handler {
	r := mux.NewRouter()

	// Route websocket requests
	r.Headers(
		"Connection", "Upgrade",
		"Upgrade", "websocket",
	).Handler(newWsHandler(h, mgr, cfg.Origin))

	r.Path("/broadcast").Methods("POST").Handler(broadcastHandler{router: router, appKey: cfg.AppKey})
	r.Path("/status").Methods("GET").Handler(statusHandler{h: h})

	return r
}

type wsHandler struct {
	h        *hub
	mgr      *channelManager
	upgrader *websocket.Upgrader
}

func newWsHandler(h *hub, mgr *channelManager, origin string) wsHandler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if origin != "" {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return sameOrigin(r.Header.Get("Origin"), origin)
		}
	} else {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return wsHandler{h: h, mgr: mgr, upgrader: upgrader}
}

func sameOrigin(got, want string) bool {
	if got == "" {
		return true
	}
	u, err := url.Parse(got)
	if err != nil {
		return false
	}
	return u.Scheme+"://"+u.Host == want
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConnection(ws, wsh.h, wsh.mgr, r)
	c.run()
}

// broadcastHandler accepts HTTP-posted events: a JSON body with the
// target channel and the message, authorized by the configured app key.
type broadcastHandler struct {
	router *broadcastRouter
	appKey string
}

func (bh broadcastHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if bh.appKey != "" && r.Header.Get("Authorization") != bh.appKey {
		sendJSONError(w, http.StatusForbidden, "unauthorized")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "unable to read POST body")
		return
	}

	var env brokerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		sendJSONError(w, http.StatusBadRequest, "event must be valid JSON")
		return
	}
	if env.Channel == "" || env.Message == nil {
		sendJSONError(w, http.StatusBadRequest, "event must include channel and message")
		return
	}

	if !bh.router.route(env.Channel, env.Message) {
		sendJSONError(w, http.StatusBadRequest, "could not broadcast to channel: "+env.Channel)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"message":"ok"}`))
}

// statusHandler reports uptime and per-channel subscription counts.
type statusHandler struct {
	h *hub
}

func (sh statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats := sh.h.stats()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		"connections":    stats.connections,
		"channels":       stats.channels,
	})
	if err != nil {
		logError("status encode", zap.Error(err))
	}
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
