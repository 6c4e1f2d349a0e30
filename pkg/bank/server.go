package bank

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	pb "github.com/mnohosten/interbank/pkg/protocol"
	"github.com/mnohosten/interbank/pkg/rpc"
)

// Config holds configuration for one bank node.
type Config struct {
	// Name is the bank's name in the gateway directory; it is also the
	// TLS role whose certificate is loaded from CertsDir.
	Name string
	Host string
	Port int

	// CertsDir is the directory holding ca.crt, <name>.crt and
	// <name>.key. Empty disables TLS (tests only).
	CertsDir string

	// MaxConcurrentRPCs bounds the worker pool.
	MaxConcurrentRPCs int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		CertsDir:          "certs",
		MaxConcurrentRPCs: 100,
	}
}

// Server is one bank node: the store plus the gRPC server hosting its
// AuthService and BankService.
type Server struct {
	config *Config
	store  *Store
	rpc    *rpc.Server
}

// NewServer creates a bank node. TLS material is read once here; a
// loading failure is returned to the caller so the process can exit
// non-zero.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Name == "" {
		return nil, fmt.Errorf("bank name must be set")
	}

	var creds *rpc.PeerCredentials
	if config.CertsDir != "" {
		var err error
		creds, err = rpc.LoadPeerCredentials(config.CertsDir, config.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
	}

	store := NewStore(config.Name)
	logger := log.WithField("bank", config.Name)

	serverConfig := rpc.DefaultServerConfig()
	serverConfig.Host = config.Host
	serverConfig.Port = config.Port
	serverConfig.Credentials = creds
	if config.MaxConcurrentRPCs > 0 {
		serverConfig.MaxConcurrentRPCs = config.MaxConcurrentRPCs
	}

	s := &Server{config: config, store: store}
	s.rpc = rpc.NewServer(serverConfig, logger, func(g *grpc.Server) {
		pb.RegisterAuthServiceServer(g, NewAuthService(store))
		pb.RegisterBankServiceServer(g, NewService(store))
	})
	return s, nil
}

// Store returns the bank's account store.
func (s *Server) Store() *Store {
	return s.store
}

// Start begins serving in the background.
func (s *Server) Start() error {
	return s.rpc.Start()
}

// Serve runs the node on a caller-provided listener, blocking.
func (s *Server) Serve(listener net.Listener) error {
	return s.rpc.Serve(listener)
}

// Stop gracefully stops the node.
func (s *Server) Stop() {
	s.rpc.Stop()
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.rpc.Addr()
}
