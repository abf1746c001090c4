// Command signaldemo is a minimal demonstration of joining a room over
// the HTTP signaling transport and printing presence and message
// events as they arrive. It is not part of the core: no configuration
// file loading, no CLI framework — just the standard library's flag
// package, matching the library's own stance that CLI/config wiring is
// an application concern.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/jabolina/go-rendezvous/pkg/signal"
	"github.com/jabolina/go-rendezvous/pkg/signal/broker"
	"github.com/jabolina/go-rendezvous/pkg/signal/direct"
	"github.com/jabolina/go-rendezvous/pkg/signal/eventbus"
	"github.com/jabolina/go-rendezvous/pkg/signal/presence"
	"github.com/jabolina/go-rendezvous/pkg/signal/session"
	"github.com/jabolina/go-rendezvous/pkg/signal/transport"
	"github.com/jabolina/go-rendezvous/pkg/signal/types"
)

func main() {
	name := flag.String("name", "peer", "peer name")
	room := flag.String("room", "demo-room", "room id to join")
	listen := flag.String("listen", "", "if set, serve the signaling broker over HTTP on this address instead of connecting to one")
	connect := flag.String("connect", "", "base URL of a signaling broker started with -listen")
	flag.Parse()

	if *listen != "" {
		b := broker.New()
		server := transport.NewHTTPServer(b)
		fmt.Printf("serving signaling broker on %s\n", *listen)
		if err := http.ListenAndServe(*listen, server.Handler()); err != nil {
			fmt.Fprintln(os.Stderr, "server stopped:", err)
			os.Exit(1)
		}
		return
	}

	if *connect == "" {
		fmt.Fprintln(os.Stderr, "either -listen or -connect must be set")
		os.Exit(2)
	}

	tr := transport.NewHTTPClient(*connect, http.DefaultClient)
	cfg := session.Config{DirectFactory: direct.NewFake()}
	r := signal.NewRoom(types.RoomId(*room), tr, cfg)
	peer := signal.NewPeer(nil, *name)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop, err := peer.Join(ctx, r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "join failed:", err)
		os.Exit(1)
	}
	fmt.Printf("%s joined room %q\n", peer.Id(), *room)

	sub := eventbus.On[presence.PresenceEvent](loop.Bus(), ctx, "presence", func(evt presence.PresenceEvent) {
		fmt.Printf("presence: %s %s\n", evt.Type, evt.Peer)
	})
	defer sub.Dispose()

	msgSub := eventbus.On[presence.MessageEvent](loop.Bus(), ctx, "message", func(evt presence.MessageEvent) {
		fmt.Printf("message from %s: %s\n", evt.Peer, string(evt.Data))
	})
	defer msgSub.Dispose()

	<-ctx.Done()
	_ = peer.Leave(context.Background(), r)
}
