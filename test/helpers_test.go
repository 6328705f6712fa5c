//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"testing"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/internal/clientsim"
	"github.com/MrEthical07/goFallback/protocol"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newIntegrationRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// serveOverTCP runs one simulated client against engine.Serve on loopback.
func serveOverTCP(t *testing.T, engine *goFallback.Engine, info goFallback.ConnectionInfo, b clientsim.Behavior) (goFallback.Outcome, *clientsim.Client) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan *clientsim.Client, 1)
	go func() {
		c := clientsim.New(info.Version, b, engine.Config().Verification.MovementSamples)
		defer func() { done <- c }()

		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		fc := goFallback.NewFrameConn(conn)
		for {
			f, err := fc.ReadFrame()
			if err != nil {
				return
			}
			replies, err := c.Receive(f)
			if err != nil {
				return
			}
			for _, r := range replies {
				if fc.WriteFrame(r) != nil {
					return
				}
			}
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	out, err := engine.Serve(context.Background(), goFallback.NewFrameConn(conn), info)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	_ = conn.Close()
	return out, <-done
}

func integrationConfig() goFallback.Config {
	cfg := goFallback.DefaultConfig()
	cfg.Verification.MinDuration = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

var integrationVersions = []protocol.Version{protocol.V1_7_6, protocol.V1_8, protocol.V1_12_2, protocol.V1_15_2}
