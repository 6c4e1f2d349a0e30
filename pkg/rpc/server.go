package rpc

import (
	"fmt"
	"net"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// ServerConfig holds configuration shared by the bank and gateway gRPC
// servers.
type ServerConfig struct {
	// Network configuration
	Host string
	Port int

	// Credentials for mutual TLS. Nil disables transport security, which
	// is only acceptable for in-process tests.
	Credentials *PeerCredentials

	// Connection settings. MaxConcurrentRPCs bounds the worker pool: one
	// in-flight RPC per stream.
	MaxConcurrentRPCs int
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	// StopTimeout bounds graceful shutdown before connections are torn
	// down forcibly.
	StopTimeout time.Duration
}

// DefaultServerConfig returns a config with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		MaxConcurrentRPCs: 100,
		KeepAliveInterval: 30 * time.Second,
		KeepAliveTimeout:  10 * time.Second,
		StopTimeout:       30 * time.Second,
	}
}

// Server wraps a grpc.Server with the lifecycle both node kinds share:
// option assembly, listener management and bounded graceful stop.
type Server struct {
	config     *ServerConfig
	logger     *log.Entry
	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.RWMutex
	started bool
}

// NewServer creates a server and hands the underlying grpc.Server to
// register so the caller can attach its services before Start.
func NewServer(config *ServerConfig, logger *log.Entry, register func(*grpc.Server)) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(uint32(config.MaxConcurrentRPCs)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepAliveInterval,
			Timeout: config.KeepAliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             config.KeepAliveInterval / 2,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			LoggingUnaryInterceptor(logger),
		),
	}
	if config.Credentials != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(config.Credentials.ServerConfig())))
	}

	s := &Server{
		config:     config,
		logger:     logger,
		grpcServer: grpc.NewServer(opts...),
	}
	register(s.grpcServer)
	grpc_prometheus.Register(s.grpcServer)
	return s
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go func() {
		s.logger.WithField("addr", listener.Addr().String()).Info("grpc server listening")
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.WithError(err).Error("grpc server stopped serving")
		}
	}()

	s.started = true
	return nil
}

// Serve runs the server on a caller-provided listener, blocking until the
// server stops. Used by tests with in-memory listeners.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.listener = listener
	s.started = true
	s.mu.Unlock()

	return s.grpcServer.Serve(listener)
}

// Stop gracefully stops the server, forcing the stop after StopTimeout.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("grpc server stopped gracefully")
	case <-time.After(s.config.StopTimeout):
		s.grpcServer.Stop()
		s.logger.Warn("grpc server force stopped")
	}
	s.started = false
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}
