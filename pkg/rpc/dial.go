package rpc

import (
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// DialOptions returns the dial options every outbound connection uses:
// mutual TLS (or insecure when creds is nil, for tests), client keepalive,
// RPC metrics and gzip message compression.
func DialOptions(creds *PeerCredentials, serverName string) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithDefaultCallOptions(grpc.UseCompressor(GzipName)),
	}
	if creds != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(creds.ClientConfig(serverName))))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return opts
}

// Dial opens a pooled client connection to addr. The connection is lazy;
// RPC attempts surface transport failures.
func Dial(addr string, creds *PeerCredentials, serverName string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, DialOptions(creds, serverName)...)
}
