// Command echohub relays application events to websocket subscribers.
//
//	echohub -addr=:6001 -config=echohub.yml
//
// Clients subscribe to named channels over a websocket, sending JSON
// frames like {"event":"subscribe","data":{"channel":"orders"}}.
// Channels matching the private patterns (private-*, presence-*) are
// authorized against the application's auth endpoint before the
// subscription is accepted; presence channels additionally track who is
// in them and tell their members about joins and leaves.
//
// The application publishes events by POSTing to /broadcast, or through
// Redis pub/sub, NATS, or Kafka. Every event carries a channel name, an
// event name and a payload, and is fanned out to all subscribers of the
// channel. An event tagged with its origin socket id is delivered to
// everyone except the originator.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	"go.uber.org/zap"
)

func main() {
	server := &http.Server{}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	addr := flag.String("addr", "", "http service address (overrides config)")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	flag.DurationVar(&m.tick, "metrics.tick", m.tick, "metrics: duration between reports")
	configPath := flag.String("config", "", "path to yaml config file")
	devMode := flag.Bool("dev", false, "dev mode: debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	if *devMode {
		cfg.DevMode = true
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	server.Addr = cfg.Addr
	initLogger(cfg.DevMode)

	st, err := newStore(cfg)
	if err != nil {
		logError("store init", zap.Error(err))
		panic(err)
	}

	hub := newHub()
	go hub.run()

	gateway := newAuthGateway(cfg)
	presence := newPresenceTracker(st, hub, cfg.IdentityKey)
	mgr := newChannelManager(hub, gateway, presence, cfg)
	router := newBroadcastRouter(hub)

	if err := startSubscribers(cfg, router.route); err != nil {
		logError("subscriber init", zap.Error(err))
		panic(err)
	}

	startMetrics()
	defer finalMetrics()

	server.Handler = newHandler(cfg, hub, mgr, router)
	logInfo("serving", zap.String("addr", server.Addr))
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		panic(err)
	}
}
