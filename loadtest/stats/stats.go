// Package stats aggregates metrics from many load test clients and prints a
// summary report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates client metrics. All methods are goroutine-safe.
type Collector struct {
	mu                 sync.Mutex
	connectLatencies   []time.Duration
	handshakeLatencies []time.Duration
	errors             int
	connections        int
	proposals          int
	onlineLists        int
	rateLimited        int
	startTime          time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful connection with its dial and handshake
// latencies.
func (c *Collector) AddConnect(dial, handshake time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, dial)
	c.handshakeLatencies = append(c.handshakeLatencies, handshake)
	c.connections++
	c.mu.Unlock()
}

// AddTraffic adds one client's received message counts.
func (c *Collector) AddTraffic(onlineLists, proposals, rateLimited int) {
	c.mu.Lock()
	c.onlineLists += onlineLists
	c.proposals += proposals
	c.rateLimited += rateLimited
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a summary of the collected metrics to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:   %d\n", c.connections)
	fmt.Printf("Errors:        %d\n", c.errors)
	fmt.Printf("Online lists:  %d\n", c.onlineLists)
	fmt.Printf("Proposals:     %d\n", c.proposals)
	fmt.Printf("Rate limited:  %d\n", c.rateLimited)

	if c.connections > 0 {
		errorRate := float64(c.errors) / float64(c.connections) * 100
		fmt.Printf("Error rate:    %.2f%%\n", errorRate)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Dial Latency ---")
		fmt.Println("  " + Summarize(c.connectLatencies))
	}
	if len(c.handshakeLatencies) > 0 {
		fmt.Println("\n--- Handshake Latency ---")
		fmt.Println("  " + Summarize(c.handshakeLatencies))
	}
	fmt.Println()
}

// Summarize sorts durations in place and formats avg, p50, p95, p99 and max.
func Summarize(durations []time.Duration) string {
	n := len(durations)
	if n == 0 {
		return "(n=0)"
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		avg.Round(time.Microsecond),
		durations[n/2].Round(time.Microsecond),
		durations[percentileIndex(n, 0.95)].Round(time.Microsecond),
		durations[percentileIndex(n, 0.99)].Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}

func percentileIndex(n int, p float64) int {
	i := int(math.Ceil(float64(n)*p)) - 1
	if i < 0 {
		return 0
	}
	return i
}
