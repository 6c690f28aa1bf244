package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/codepair/matchmaker/loadtest/client"
	"github.com/codepair/matchmaker/loadtest/stats"
)

// runPresence connects every user from a seed file, ramping up over a
// configurable duration, then holds the connections open while they
// heartbeat. Each arrival should produce proposals for compatible users
// already online.
func runPresence(args []string) {
	fs := flag.NewFlagSet("presence", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	seedFile := fs.String("seed", "users.json", "Seed file written by 'loadtest seed'")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 60*time.Second, "Hold duration after all users are connected")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	fs.Parse(args)

	ids, err := readUserIDs(*seedFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Presence test: %d users to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		len(ids), *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, len(ids))
	)

	fmt.Println("\n--- Ramp-up phase ---")
	interval := time.Millisecond
	if len(ids) > 0 && *rampUp/time.Duration(len(ids)) > interval {
		interval = *rampUp / time.Duration(len(ids))
	}
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	rampStart := time.Now()
	ticker := time.NewTicker(interval)

ramp:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break ramp
		case <-ticker.C:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := client.New(connCtx, *url, id)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitConnected(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			m := c.GetMetrics()
			collector.AddConnect(m.ConnectLatency, m.HandshakeLatency)
			go c.Heartbeat(ctx)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(id)
	}
	ticker.Stop()
	wg.Wait()
	fmt.Printf("Ramp-up complete: %d/%d users in %s (%d errors)\n",
		collector.ConnectionCount(), len(ids),
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	if ctx.Err() == nil {
		fmt.Println("\n--- Hold phase ---")
		holdTimer := time.NewTimer(*hold)
		status := time.NewTicker(5 * time.Second)
	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("Hold period complete.")
				break holdLoop
			case <-status.C:
				mu.Lock()
				alive, proposals := 0, 0
				for _, c := range clients {
					if c.Alive() {
						alive++
					}
					proposals += c.GetMetrics().Proposals
				}
				total := len(clients)
				mu.Unlock()
				fmt.Printf("  [hold] alive: %d/%d  proposals: %d\n", alive, total, proposals)
			}
		}
		holdTimer.Stop()
		status.Stop()
	}

	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	for _, c := range clients {
		m := c.GetMetrics()
		collector.AddTraffic(m.OnlineLists, m.Proposals, m.RateLimited)
		c.Close()
	}
	mu.Unlock()
	collector.Report()
}

func readUserIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var users []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID != "" {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
