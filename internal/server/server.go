// Package server accepts TCP connections and answers exactly one request on
// each: frame, parse, dispatch, write, close.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zzampax/Simple-HTTP/internal/metrics"
	"github.com/zzampax/Simple-HTTP/internal/wire"
)

var ErrNoListener = errors.New("no listen address could be bound")

const (
	drainTimeout  = 500 * time.Millisecond
	maxDrainBytes = 256 << 10
)

// Dispatcher maps a parsed request onto its response.
type Dispatcher interface {
	Dispatch(req *wire.Request) *wire.Response
}

type Config struct {
	// Addrs are tried in order; the first that binds is used.
	Addrs        []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Limits       wire.Limits
	RateLimit    RateLimit
}

type Server struct {
	listener   net.Listener
	config     Config
	logger     *zap.Logger
	wg         sync.WaitGroup
	dispatcher Dispatcher
	limiter    *limiterPool
	metrics    *metrics.Metrics

	shutdownOnce sync.Once
}

// New binds the first available address from config.Addrs.
func New(config Config, d Dispatcher, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, err := Listen(config.Addrs, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener:   l,
		config:     config,
		logger:     logger,
		dispatcher: d,
		limiter:    newLimiterPool(config.RateLimit),
		metrics:    m,
	}, nil
}

// Listen walks addrs and returns a listener on the first one that binds.
func Listen(addrs []string, logger *zap.Logger) (net.Listener, error) {
	var errs []error
	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err == nil {
			logger.Info("listening", zap.String("addr", l.Addr().String()))
			return l, nil
		}
		logger.Warn("listen_failed", zap.String("addr", addr), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoListener, errors.Join(errs...))
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start runs the accept loop until ctx is cancelled or the listener closes.
func (s *Server) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept_failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting and waits for in-flight connections.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutdown_initiated")
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("listener_close_failed", zap.Error(err))
		}
		s.wg.Wait()
		s.logger.Info("server_stopped")
	})
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	remote := remoteHost(conn)
	log := s.logger.With(zap.String("remote", remote))
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("connection_close_failed", zap.Error(err))
		}
	}()

	if err := conn.SetReadDeadline(deadline(s.config.ReadTimeout)); err != nil {
		log.Warn("set_read_deadline_failed", zap.Error(err))
		return
	}
	if err := conn.SetWriteDeadline(deadline(s.config.WriteTimeout)); err != nil {
		log.Warn("set_write_deadline_failed", zap.Error(err))
		return
	}

	if !s.limiter.Allow(remote) {
		s.metrics.ConnectionRateLimited()
		log.Warn("rate_limited")
		s.write(conn, log, wire.Text(http.StatusTooManyRequests))
		closeWriteAndDrain(conn)
		return
	}
	s.metrics.ConnectionAccepted()
	defer s.metrics.ConnectionOpened()()

	started := time.Now()
	msg, n, err := wire.Frame(bufio.NewReader(conn), s.config.Limits)
	if err != nil {
		s.reject(conn, log, err, n, started)
		return
	}
	req, err := wire.ParseRequest(msg.Bytes)
	if err != nil {
		s.reject(conn, log, err, n, started)
		return
	}
	log.Debug("request_parsed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("headers", len(req.Headers)),
		zap.Int("body_bytes", len(req.Body)))

	resp := s.dispatch(req, log)
	s.write(conn, log, resp)
	s.metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(started))
	log.Info("request_served",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", time.Since(started)))
}

// dispatch shields the connection from a panicking handler.
func (s *Server) dispatch(req *wire.Request, log *zap.Logger) (resp *wire.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch_panic", zap.Any("panic", r), zap.String("path", req.Path))
			resp = wire.Text(http.StatusInternalServerError)
		}
	}()
	resp = s.dispatcher.Dispatch(req)
	if resp == nil {
		resp = wire.Text(http.StatusInternalServerError)
	}
	return resp
}

// reject answers a framing or parse failure, or closes silently when the
// peer never sent a whole message.
func (s *Server) reject(conn net.Conn, log *zap.Logger, err error, consumed int, started time.Time) {
	kind := wire.ErrorKind(err)
	s.metrics.FrameError(kind)
	code, ok := wire.StatusFor(err)
	if !ok {
		log.Debug("connection_dropped", zap.String("kind", kind), zap.Int("consumed", consumed), zap.Error(err))
		return
	}
	log.Info("request_rejected", zap.String("kind", kind), zap.Int("status", code), zap.Error(err))
	s.write(conn, log, wire.Text(code))
	s.metrics.ObserveRequest("", code, time.Since(started))
	closeWriteAndDrain(conn)
}

// deadline turns a timeout into an absolute deadline; zero disables it.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// closeWriteAndDrain half-closes conn and discards whatever the client is
// still sending, so the close that follows does not reset the connection
// before the error response is read.
func closeWriteAndDrain(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.CloseWrite()
	_ = tc.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(tc, maxDrainBytes))
}

func (s *Server) write(conn net.Conn, log *zap.Logger, resp *wire.Response) {
	if err := wire.WriteResponse(conn, resp); err != nil {
		log.Warn("write_response_failed", zap.Error(err))
	}
}
