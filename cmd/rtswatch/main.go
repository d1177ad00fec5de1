// Command rtswatch follows the realtime channels of one world and prints
// every entity update it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/realtime"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "broadcaster websocket url")
	worldID := flag.String("world", "", "world id to follow")
	channels := flag.String("channels", "resources,movement,combat,claims", "comma separated channels")
	retries := flag.Int("retries", 5, "reconnect attempts before giving up")
	delayMs := flag.Int("retry-delay-ms", 500, "first reconnect delay")
	flag.Parse()

	if *worldID == "" {
		fmt.Fprintln(os.Stderr, "usage: rtswatch -world <id> [-url ws://host/ws] [-channels resources,combat]")
		os.Exit(2)
	}
	rc := config.ReconnectConfig{MaxRetries: *retries, RetryDelayMs: *delayMs, BackoffMultiplier: 2}
	if err := rc.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "[rtswatch] ", log.LstdFlags)
	m := realtime.NewListenerManager(*url, rc, logger)
	defer m.Close()

	// latest version seen per channel/type/id
	var mu sync.Mutex
	state := make(map[string]int64)
	show := func(msg realtime.Message) {
		key := fmt.Sprintf("%s/%s/%d", msg.Channel, msg.EntityType, msg.EntityID)
		mu.Lock()
		state[key] = msg.Version
		n := len(state)
		mu.Unlock()
		fmt.Printf("%s seq=%d %s v%d %s (tracking %d)\n",
			msg.Channel, msg.Seq, key, msg.Version, msg.Payload, n)
	}

	var subs []*realtime.Subscription
	for _, name := range strings.Split(*channels, ",") {
		ch := realtime.Channel(strings.TrimSpace(name))
		s, err := m.Subscribe(ctx, *worldID, ch, show)
		if err != nil {
			log.Fatal(err)
		}
		subs = append(subs, s)
	}

	failed := make(chan error, len(subs))
	for _, s := range subs {
		s := s
		go func() {
			<-s.Done()
			if err := s.Err(); err != nil {
				failed <- fmt.Errorf("%s/%s: %w", s.WorldID, s.Channel, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-failed:
		logger.Printf("giving up: %v", err)
		m.Close()
		os.Exit(1)
	}
}
