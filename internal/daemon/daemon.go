// Package daemon implements caskyd's line-oriented TCP server: it opens a
// single casky.DB and serves every client against it, relying entirely on
// the engine's own thread-safety mode for concurrency — the daemon itself
// holds no additional lock around engine calls.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thesp0nge/casky"
)

// Config holds daemon-level server configuration — transport and logging
// concerns, as distinct from the engine policy options passed to
// casky.Open by the caller.
type Config struct {
	Addr        string
	MaxClients  int
	ReadTimeout time.Duration
	LogLevel    string
	// ThreadSafe mirrors the WithThreadSafe option the caller passed to
	// casky.Open, purely so the banner and VER command can report it; the
	// daemon never inspects or changes the engine's locking behavior.
	ThreadSafe bool
}

// DefaultConfig returns sane daemon defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       ":5050",
		MaxClients: 1000,
		LogLevel:   "info",
		ThreadSafe: true,
	}
}

// Server is the caskyd TCP server.
type Server struct {
	addr       string
	db         *casky.DB
	config     Config
	listener   net.Listener
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	clients    map[int64]net.Conn
	nextConnID int64
	logger     *slog.Logger
}

// New creates a Server that will serve db once Start is called.
func New(db *casky.DB, cfg Config) *Server {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(log.Writer(), &slog.HandlerOptions{Level: level}))

	return &Server{
		addr:    cfg.Addr,
		db:      db,
		config:  cfg,
		clients: make(map[int64]net.Conn),
		logger:  logger,
	}
}

// Start listens on the configured address and serves connections until ctx
// is cancelled or Close is called. It blocks; once the listener is closed it
// waits up to 5 seconds for active clients before returning.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("caskyd listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				done := make(chan struct{})
				go func() {
					s.wg.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(5 * time.Second):
				}
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(5 * time.Minute)
		}

		s.mu.Lock()
		current := len(s.clients)
		if s.config.MaxClients > 0 && current >= s.config.MaxClients {
			s.mu.Unlock()
			conn.Close()
			s.logger.Warn("max clients reached, rejecting connection")
			continue
		}
		s.nextConnID++
		id := s.nextConnID
		s.clients[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go func(id int64, c net.Conn) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.clients, id)
				s.mu.Unlock()
			}()
			s.handleConnection(c)
		}(id, conn)
	}
}

// ListenAddr returns the address the server is actually listening on, once
// Start has bound its listener. It is mainly useful in tests that ask for
// port 0 and need to discover the OS-assigned port.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting new connections and waits up to 5 seconds for
// active clients to finish before returning. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("shutdown timed out waiting for clients")
	}
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	banner := fmt.Sprintf("CASKY %s READY%s", casky.Version(), s.modeSuffix())
	fmt.Fprintf(conn, "%s\n", banner)

	reader := bufio.NewReader(conn)
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		response, quit := s.dispatch(line)
		if _, err := fmt.Fprintf(conn, "%s\n", response); err != nil {
			return
		}
		if quit {
			return
		}
	}
}

// dispatch parses and executes one line-protocol command and returns the
// response line to write back (without its trailing newline) and whether
// the connection should be closed afterward.
func (s *Server) dispatch(line string) (string, bool) {
	fields := strings.SplitN(line, " ", 3)
	verb := strings.ToUpper(fields[0])

	switch verb {
	case "PUT":
		if len(fields) < 3 {
			return "ERROR usage: PUT <key> <value>", false
		}
		if err := s.db.Put([]byte(fields[1]), []byte(fields[2]), 0); err != nil {
			return errorResponse(err), false
		}
		return "OK", false

	case "GET":
		if len(fields) < 2 {
			return "ERROR usage: GET <key>", false
		}
		val, ok := s.db.Get([]byte(fields[1]))
		if !ok {
			return "NOT_FOUND", false
		}
		return "VALUE " + string(val), false

	case "DEL":
		if len(fields) < 2 {
			return "ERROR usage: DEL <key>", false
		}
		if err := s.db.Delete([]byte(fields[1])); err != nil {
			if errors.Is(err, casky.ErrKeyNotFound) {
				return "NOT_FOUND", false
			}
			return errorResponse(err), false
		}
		return "OK", false

	case "COMPACT":
		if err := s.db.Compact(); err != nil {
			return errorResponse(err), false
		}
		return "OK", false

	case "STATS":
		st := s.db.Stats()
		var b strings.Builder
		b.WriteString("STATS\n")
		fmt.Fprintf(&b, " total_keys=%d\n", st.TotalKeys)
		fmt.Fprintf(&b, " num_puts=%d\n", st.NumPuts)
		fmt.Fprintf(&b, " num_gets=%d\n", st.NumGets)
		fmt.Fprintf(&b, " num_deletes=%d\n", st.NumDeletes)
		fmt.Fprintf(&b, " memory_bytes=%d", st.MemoryBytes)
		return b.String(), false

	case "VER":
		return casky.Version() + s.modeSuffix(), false

	case "QUIT":
		return "BYE", true

	default:
		return "ERROR unknown command", false
	}
}

func (s *Server) modeSuffix() string {
	if s.config.ThreadSafe {
		return " (thread-safe)"
	}
	return ""
}

func errorResponse(err error) string {
	var caskyErr *casky.Error
	if errors.As(err, &caskyErr) {
		return "ERROR " + strconv.Itoa(int(caskyErr.Kind))
	}
	return "ERROR " + err.Error()
}
