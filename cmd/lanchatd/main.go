// Command lanchatd is a minimal console front end for the lanchat node: it
// reads lines from stdin as outgoing messages and prints every MessageSaid
// event to stdout. It stands in for the external GUI/voice collaborator the
// spec explicitly places out of scope (spec §1).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"lanchat/internal/chatserver"
	"lanchat/internal/httpstatus"
	"lanchat/internal/node"
)

func main() {
	port := flag.Int("port", 0, "TCP/UDP port to use (0 selects the protocol default)")
	name := flag.String("name", "", "display name to announce on connect")
	rateLimit := flag.Int("rate-limit", 20, "maximum SAY frames per second per client, when self-hosting")
	statusAddr := flag.String("status-addr", "", "optional HTTP listen address for the read-only /status endpoint (empty disables it)")
	flag.Parse()

	n := node.New(node.Config{
		Port:         *port,
		SayRateLimit: *rateLimit,
	}, printMessage)

	if *statusAddr != "" {
		watchStatusServer(n, *statusAddr)
	}

	if *name != "" {
		if err := n.SetName(*name); err != nil {
			log.Fatalf("[lanchatd] invalid -name: %v", err)
		}
	}

	n.Start()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := n.Say(line); err != nil {
			log.Printf("[lanchatd] say: %v", err)
		}
	}
}

func printMessage(name, msg string) {
	fmt.Printf("%s: %s\n", name, msg)
}

// watchStatusServer registers a callback that starts a new httpstatus.Server
// on addr whenever n begins self-hosting, and shuts the previous one down
// when n disposes or replaces its self-hosted server.
// Only a node that is currently self-hosting has anything for /status to
// report; a node that is merely a connected client exposes nothing.
func watchStatusServer(n *node.Node, addr string) {
	var cancel context.CancelFunc
	n.OnServerChanged(func(srv *chatserver.Server) {
		if cancel != nil {
			cancel()
			cancel = nil
		}
		if srv == nil {
			return
		}
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go httpstatus.New(srv).Run(ctx, addr)
	})
}
