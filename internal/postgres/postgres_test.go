package postgres

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(Config{DSN: "postgres://u:p@localhost:5432/clubtix", MaxConns: 7})
	require.NoError(t, err)
	assert.Equal(t, int32(7), cfg.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, appName, cfg.ConnConfig.RuntimeParams["application_name"])

	cfg, err = poolConfig(Config{DSN: "postgres://u:p@localhost:5432/clubtix?application_name=worker"})
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.ConnConfig.RuntimeParams["application_name"])
	assert.Positive(t, cfg.MaxConns)

	_, err = poolConfig(Config{DSN: "postgres://u:p@localhost:notaport/db"})
	assert.Error(t, err)
}

func TestNewFailsWithinPingTimeout(t *testing.T) {
	// A listener that accepts and never answers keeps the ping hanging.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	start := time.Now()
	_, err = New(context.Background(), Config{
		DSN:         "postgres://u:p@" + ln.Addr().String() + "/clubtix?sslmode=disable",
		PingTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.New:")
	assert.Less(t, time.Since(start), 3*time.Second)
}
