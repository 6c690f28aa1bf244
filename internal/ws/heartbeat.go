package ws

import (
	"context"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// deadline is how long a connection may stay silent before it is dropped.
func (c HeartbeatConfig) deadline() time.Duration {
	return c.Interval + c.Timeout
}

// RunHeartbeat periodically pings every connection and closes those that
// have gone stale (no frame read within Interval + Timeout). It blocks until
// ctx is cancelled.
func RunHeartbeat(ctx context.Context, server *Server) {
	config := server.config.Heartbeat
	if config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkConnections(server, config, time.Now())
		}
	}
}

// checkConnections removes connections silent for longer than the deadline
// and sends a protocol-level ping to the rest. Browsers answer pings with a
// pong automatically, which counts as activity.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.deadline()

	for _, c := range server.Connections().All() {
		if silent := now.Sub(c.LastSeen()); silent > deadline {
			server.log.Info().
				Str("conn_id", c.ID).
				Dur("silent", silent.Round(time.Second)).
				Msg("heartbeat timeout")
			server.RemoveConnection(c)
			continue
		}

		if err := server.withWriteDeadline(c, c.WritePing); err != nil {
			server.log.Debug().Err(err).Str("conn_id", c.ID).Msg("heartbeat ping failed")
			server.RemoveConnection(c)
		}
	}
}
