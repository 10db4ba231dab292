package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thesp0nge/casky"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.log")
	db, err := casky.Open(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)

	var listenAddr string
	for i := 0; i < 50; i++ {
		if listenAddr = srv.ListenAddr(); listenAddr != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, listenAddr)

	return listenAddr, func() {
		cancel()
		db.Close()
	}
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn, bufio.NewReader(conn)
}

func TestDaemonSequence(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, r := dial(t, addr)
	defer conn.Close()

	banner, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, banner, "CASKY")

	send := func(line string) string {
		fmt.Fprintf(conn, "%s\n", line)
		resp, err := r.ReadString('\n')
		require.NoError(t, err)
		return trimNL(resp)
	}

	require.Equal(t, "OK", send("PUT foo bar"))
	require.Equal(t, "VALUE bar", send("GET foo"))
	require.Equal(t, "NOT_FOUND", send("GET unknown"))
	require.Equal(t, "OK", send("DEL foo"))
	require.Equal(t, "NOT_FOUND", send("DEL foo"))
	require.Equal(t, "ERROR unknown command", send("FOO bar"))
	require.Equal(t, "ERROR usage: PUT <key> <value>", send("PUT keyonly"))
	require.Equal(t, "BYE", send("QUIT"))
}

func TestDaemonStatsAndCompact(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, r := dial(t, addr)
	defer conn.Close()
	_, err := r.ReadString('\n')
	require.NoError(t, err)

	send := func(line string) string {
		fmt.Fprintf(conn, "%s\n", line)
		resp, err := r.ReadString('\n')
		require.NoError(t, err)
		return trimNL(resp)
	}

	require.Equal(t, "OK", send("PUT a 1"))
	require.Equal(t, "OK", send("COMPACT"))

	fmt.Fprintf(conn, "STATS\n")
	statsHeader, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STATS", trimNL(statsHeader))
	for i := 0; i < 5; i++ {
		_, err := r.ReadString('\n')
		require.NoError(t, err)
	}
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
