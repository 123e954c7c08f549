// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/collector/lib/clock"
	"github.com/bureau-foundation/collector/lib/metrics"
	"github.com/bureau-foundation/collector/lib/netutil"
)

// Protocol commands.
const (
	CommandTelemetry = "telemetry-stream"
	CommandUpload    = "file-upload"

	// CommandLog is recognized but has no handler yet; connections
	// using it are logged and closed.
	CommandLog = "log-stream"
)

// LegacyAliases maps the handshake names older analyzers send onto
// current commands.
var LegacyAliases = map[string]string{
	"BSON": CommandTelemetry,
	"FILE": CommandUpload,
	"LOG":  CommandLog,
}

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultMaxHandshakeLine = 256
)

// ErrHandshake is returned for a handshake line that does not name a
// known command with a well-formed version.
var ErrHandshake = errors.New("invalid handshake")

// Conn is an accepted connection after its handshake. Handlers must
// read through Reader, which may already hold bytes sent right after
// the handshake line.
type Conn struct {
	net.Conn
	Reader *bufio.Reader

	Command string

	// Version is the protocol version from the handshake, 0 when the
	// client sent none.
	Version int

	// ID is the connection's session id.
	ID string

	Logger *slog.Logger
}

// HandlerFunc serves one connection. The server closes the connection
// when the handler returns. Errors that are ordinary disconnects (see
// netutil.IsExpectedCloseError) are logged at debug level; others at
// warning level.
type HandlerFunc func(ctx context.Context, conn *Conn) error

// Config holds the parameters for a Server.
type Config struct {
	HandshakeTimeout time.Duration
	MaxHandshakeLine int

	// Aliases maps extra handshake names to commands. Nil selects
	// LegacyAliases; an empty map disables aliasing.
	Aliases map[string]string

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server accepts connections and dispatches them by handshake command.
type Server struct {
	handlers         map[string]HandlerFunc
	reserved         map[string]bool
	aliases          map[string]string
	handshakeTimeout time.Duration
	maxLine          int
	clock            clock.Clock
	metrics          *metrics.Metrics
	logger           *slog.Logger

	// activeConnections tracks in-flight handlers. Serve waits for
	// them before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a server with no handlers. CommandLog is reserved.
func NewServer(config Config) *Server {
	server := &Server{
		handlers:         make(map[string]HandlerFunc),
		reserved:         map[string]bool{CommandLog: true},
		aliases:          config.Aliases,
		handshakeTimeout: config.HandshakeTimeout,
		maxLine:          config.MaxHandshakeLine,
		clock:            config.Clock,
		metrics:          config.Metrics,
		logger:           config.Logger,
	}
	if server.aliases == nil {
		server.aliases = LegacyAliases
	}
	if server.handshakeTimeout <= 0 {
		server.handshakeTimeout = DefaultHandshakeTimeout
	}
	if server.maxLine <= 0 {
		server.maxLine = DefaultMaxHandshakeLine
	}
	if server.clock == nil {
		server.clock = clock.Real()
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

// Handle registers the handler for a command. Panics if the command
// already has a handler. Must be called before Serve.
func (s *Server) Handle(command string, handler HandlerFunc) {
	if _, exists := s.handlers[command]; exists {
		panic(fmt.Sprintf("dispatch.Server: duplicate handler for command %q", command))
	}
	s.handlers[command] = handler
	delete(s.reserved, command)
}

// Serve accepts connections on listener until ctx is cancelled, then
// closes the listener and waits for active handlers to return.
// Cancellation also closes every active connection, so handlers
// blocked in a read return promptly.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("collector listening", "address", listener.Addr().String())

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var temporary interface{ Timeout() bool }
			if errors.As(err, &temporary) && temporary.Timeout() {
				s.logger.Warn("accept timed out", "error", err)
				continue
			}
			acceptErr = fmt.Errorf("accepting connection: %w", err)
			break
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.ServeConn(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return acceptErr
}

// ServeConn runs the handshake and handler for one connection and
// closes it. Serve calls it for every accepted connection.
func (s *Server) ServeConn(ctx context.Context, netConn net.Conn) {
	id := uuid.NewString()
	logger := s.logger.With("session", id, "remote", remoteAddress(netConn))

	defer netConn.Close()
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("connection handler panicked",
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()

	reader := bufio.NewReader(netConn)
	command, version, err := s.handshake(netConn, reader)
	if err != nil {
		if netutil.IsExpectedCloseError(err) {
			logger.Debug("connection closed before handshake", "error", err)
		} else {
			logger.Warn("rejecting connection", "error", err)
		}
		return
	}
	logger = logger.With("command", command, "version", version)

	handler, ok := s.handlers[command]
	if !ok {
		logger.Info("command not implemented, closing connection")
		return
	}

	s.metrics.ConnectionOpened(command)
	defer s.metrics.ConnectionClosed()

	// Close the connection when the context is cancelled to unblock
	// the handler's reads. The deferred Close above covers the normal
	// return.
	handlerDone := make(chan struct{})
	defer close(handlerDone)
	go func() {
		select {
		case <-ctx.Done():
			netConn.Close()
		case <-handlerDone:
		}
	}()

	logger.Debug("connection accepted")
	err = handler(ctx, &Conn{
		Conn:    netConn,
		Reader:  reader,
		Command: command,
		Version: version,
		ID:      id,
		Logger:  logger,
	})
	switch {
	case err == nil:
		logger.Debug("connection finished")
	case ctx.Err() != nil || netutil.IsExpectedCloseError(err):
		logger.Debug("connection ended", "error", err)
	default:
		logger.Warn("connection failed", "error", err)
	}
}

// handshake reads and parses the handshake line under a deadline.
func (s *Server) handshake(conn net.Conn, reader *bufio.Reader) (string, int, error) {
	if err := conn.SetReadDeadline(s.clock.Now().Add(s.handshakeTimeout)); err != nil {
		return "", 0, fmt.Errorf("setting handshake deadline: %w", err)
	}
	line, err := netutil.ReadLine(reader, s.maxLine)
	if err != nil {
		if errors.Is(err, netutil.ErrLineTooLong) {
			return "", 0, fmt.Errorf("%w: line exceeds %d bytes", ErrHandshake, s.maxLine)
		}
		return "", 0, fmt.Errorf("reading handshake: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", 0, fmt.Errorf("clearing handshake deadline: %w", err)
	}
	return s.ParseHandshake(line)
}

// ParseHandshake splits a handshake line into its command and version
// and resolves aliases. The command must be registered or reserved.
func (s *Server) ParseHandshake(line string) (string, int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrHandshake, line)
	}

	command := fields[0]
	if canonical, ok := s.aliases[command]; ok {
		command = canonical
	}
	if _, handled := s.handlers[command]; !handled && !s.reserved[command] {
		return "", 0, fmt.Errorf("%w: unknown command %q", ErrHandshake, fields[0])
	}

	version := 0
	if len(fields) == 2 {
		parsed, err := strconv.Atoi(fields[1])
		if err != nil || parsed < 0 {
			return "", 0, fmt.Errorf("%w: malformed version %q", ErrHandshake, fields[1])
		}
		version = parsed
	}
	return command, version, nil
}

func remoteAddress(conn net.Conn) string {
	if address := conn.RemoteAddr(); address != nil {
		return address.String()
	}
	return ""
}
