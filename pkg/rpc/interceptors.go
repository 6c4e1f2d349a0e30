package rpc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/mnohosten/interbank/pkg/protocol"
)

// LoggingUnaryInterceptor returns a server interceptor that records method,
// peer, duration and outcome for every RPC. Payment requests additionally
// carry the routing fields; session keys are never logged.
func LoggingUnaryInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		fields := log.Fields{"method": info.FullMethod}
		if p, ok := peer.FromContext(ctx); ok {
			fields["peer"] = p.Addr.String()
		}
		if txn, ok := req.(*pb.Transaction); ok {
			fields["txn"] = txn.Id
			fields["fromBank"] = txn.FromBank
			fields["toBank"] = txn.ToBank
			fields["amount"] = txn.Amount
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		fields["duration"] = time.Since(start).String()
		fields["code"] = status.Code(err).String()

		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("rpc failed")
		} else {
			logger.WithFields(fields).Info("rpc handled")
		}
		return resp, err
	}
}
