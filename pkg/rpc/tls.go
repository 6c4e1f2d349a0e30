package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// PeerCredentials holds the mutual-TLS material for one process role.
// Every peer (banks, gateway, client) authenticates against the same CA;
// the role selects which certificate/key pair is presented.
type PeerCredentials struct {
	role string
	cert tls.Certificate
	pool *x509.CertPool
}

// LoadPeerCredentials reads ca.crt, <role>.crt and <role>.key from dir.
// The material is read once at startup and never mutated.
func LoadPeerCredentials(dir, role string) (*PeerCredentials, error) {
	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from %s", filepath.Join(dir, "ca.crt"))
	}

	cert, err := tls.LoadX509KeyPair(
		filepath.Join(dir, role+".crt"),
		filepath.Join(dir, role+".key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair for role %q: %w", role, err)
	}

	return &PeerCredentials{role: role, cert: cert, pool: pool}, nil
}

// Role returns the role the credentials were loaded for.
func (p *PeerCredentials) Role() string {
	return p.role
}

// ServerConfig returns a TLS config for a listening side that requires and
// verifies a client certificate signed by the shared CA.
func (p *PeerCredentials) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{p.cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    p.pool,
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientConfig returns a TLS config for a dialing side that presents the
// role certificate and verifies the server against the shared CA.
func (p *PeerCredentials) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{p.cert},
		RootCAs:      p.pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
}
