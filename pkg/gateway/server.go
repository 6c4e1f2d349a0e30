package gateway

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	pb "github.com/mnohosten/interbank/pkg/protocol"
	"github.com/mnohosten/interbank/pkg/rpc"
)

// Config holds configuration for the gateway node.
type Config struct {
	Host string
	Port int

	// Banks is the static bank directory, name → address.
	Banks map[string]string

	// CertsDir holds ca.crt, gateway.crt and gateway.key. The same
	// certificate is presented both to clients and to banks. Empty
	// disables TLS (tests only).
	CertsDir string

	// CallTimeout bounds each gateway→bank RPC.
	CallTimeout time.Duration

	// MaxConcurrentRPCs bounds the worker pool.
	MaxConcurrentRPCs int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		CertsDir:          "certs",
		CallTimeout:       5 * time.Second,
		MaxConcurrentRPCs: 100,
	}
}

// Server is the gateway node: the directory of pooled bank connections
// plus the gRPC server hosting the client-facing GatewayService.
type Server struct {
	config  *Config
	dir     *Directory
	service *Service
	rpc     *rpc.Server
}

// NewServer creates a gateway node. events may be nil.
func NewServer(config *Config, events EventSink) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Banks) == 0 {
		return nil, fmt.Errorf("bank directory must not be empty")
	}

	var creds *rpc.PeerCredentials
	if config.CertsDir != "" {
		var err error
		creds, err = rpc.LoadPeerCredentials(config.CertsDir, "gateway")
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
	}

	dir := NewDirectory(config.Banks, func(name, addr string) (*grpc.ClientConn, error) {
		return rpc.Dial(addr, creds, name)
	})
	service := NewService(dir, config.CallTimeout, events)
	logger := log.WithField("component", "gateway")

	serverConfig := rpc.DefaultServerConfig()
	serverConfig.Host = config.Host
	serverConfig.Port = config.Port
	serverConfig.Credentials = creds
	if config.MaxConcurrentRPCs > 0 {
		serverConfig.MaxConcurrentRPCs = config.MaxConcurrentRPCs
	}

	s := &Server{config: config, dir: dir, service: service}
	s.rpc = rpc.NewServer(serverConfig, logger, func(g *grpc.Server) {
		pb.RegisterGatewayServiceServer(g, service)
	})
	return s, nil
}

// Service returns the gateway service, for in-process wiring in tests.
func (s *Server) Service() *Service {
	return s.service
}

// Start begins serving in the background.
func (s *Server) Start() error {
	return s.rpc.Start()
}

// Serve runs the node on a caller-provided listener, blocking.
func (s *Server) Serve(listener net.Listener) error {
	return s.rpc.Serve(listener)
}

// Stop gracefully stops the node and closes the pooled bank connections.
func (s *Server) Stop() {
	s.rpc.Stop()
	s.dir.Close()
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.rpc.Addr()
}
