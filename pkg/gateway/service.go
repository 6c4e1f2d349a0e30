package gateway

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mnohosten/interbank/pkg/metrics"
	pb "github.com/mnohosten/interbank/pkg/protocol"
	"github.com/mnohosten/interbank/pkg/twopc"
)

// Outcome messages returned to clients. The abort message deliberately
// does not distinguish an unknown account from insufficient funds.
const (
	msgUnknownBank   = "Bank not found"
	msgInvalidAmount = "Cannot send non-positive amounts"
	msgAborted       = "Invalid account, or insufficient funds, or both. ABORT!"
	msgCommitFailed  = "Commit Failed"
	msgCommitted     = "Payment Successful"
)

// PaymentEvent describes one coordinated payment outcome.
type PaymentEvent struct {
	TxnID    string  `json:"txn_id"`
	FromBank string  `json:"from_bank"`
	ToBank   string  `json:"to_bank"`
	Amount   float64 `json:"amount"`
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
}

// EventSink receives payment outcomes, e.g. for the admin event feed.
type EventSink interface {
	PaymentProcessed(PaymentEvent)
}

// Service implements the client-facing GatewayService. It holds no
// mutable state across requests: auth and balance RPCs are forwarded to
// the owning bank, payments are coordinated with two-phase commit across
// the one or two banks involved.
type Service struct {
	pb.UnimplementedGatewayServiceServer

	dir         *Directory
	callTimeout time.Duration
	logger      *log.Entry
	events      EventSink
}

// NewService creates the gateway service over a bank directory.
// callTimeout bounds each gateway→bank RPC; zero selects 5 seconds.
// events may be nil.
func NewService(dir *Directory, callTimeout time.Duration, events EventSink) *Service {
	if callTimeout == 0 {
		callTimeout = 5 * time.Second
	}
	return &Service{
		dir:         dir,
		callTimeout: callTimeout,
		logger:      log.WithField("component", "gateway"),
		events:      events,
	}
}

// RegisterAccount forwards registration to the owning bank.
func (s *Service) RegisterAccount(ctx context.Context, req *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	conn, err := s.dir.Conn(req.BankName)
	if err != nil {
		if errors.Is(err, ErrUnknownBank) {
			return &pb.RegisterResponse{Success: false, Message: msgUnknownBank}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return pb.NewAuthServiceClient(conn).RegisterAccount(ctx, req)
}

// Login forwards a login to the owning bank.
func (s *Service) Login(ctx context.Context, req *pb.LoginRequest) (*pb.LoginResponse, error) {
	conn, err := s.dir.Conn(req.BankName)
	if err != nil {
		if errors.Is(err, ErrUnknownBank) {
			return &pb.LoginResponse{Message: msgUnknownBank}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return pb.NewAuthServiceClient(conn).LoginAccount(ctx, req)
}

// GetBalance forwards a balance query to the owning bank. A transport
// failure reaching the bank is reported in the reply rather than as an
// RPC error, so clients see one uniform error surface for balances.
func (s *Service) GetBalance(ctx context.Context, req *pb.Account) (*pb.BalanceResponse, error) {
	conn, err := s.dir.Conn(req.BankName)
	if err != nil {
		return &pb.BalanceResponse{Error: true, Message: msgUnknownBank}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	resp, err := pb.NewBankServiceClient(conn).GetBalance(ctx, req)
	if err != nil {
		return &pb.BalanceResponse{Error: true, Message: err.Error()}, nil
	}
	return resp, nil
}

// HealthCheck reports liveness.
func (s *Service) HealthCheck(ctx context.Context, req *pb.HealthCheckRequest) (*pb.HealthCheckResponse, error) {
	return &pb.HealthCheckResponse{Up: true}, nil
}

// ProcessPayment coordinates one transfer. The sender bank is prepared
// alongside the recipient bank (one composite participant when they are
// the same); a unanimous yes commits, anything else aborts the prepared
// participants. A failure after the commit decision is reported to the
// client but never reverted.
func (s *Service) ProcessPayment(ctx context.Context, txn *pb.Transaction) (*pb.TransactionResponse, error) {
	start := time.Now()
	resp := s.processPayment(ctx, txn)
	metrics.PaymentDuration.Observe(time.Since(start).Seconds())

	if s.events != nil {
		s.events.PaymentProcessed(PaymentEvent{
			TxnID:    txn.Id,
			FromBank: txn.FromBank,
			ToBank:   txn.ToBank,
			Amount:   txn.Amount,
			Success:  resp.Success,
			Message:  resp.Message,
		})
	}
	return resp, nil
}

func (s *Service) processPayment(ctx context.Context, txn *pb.Transaction) *pb.TransactionResponse {
	if !s.dir.Has(txn.FromBank) || !s.dir.Has(txn.ToBank) {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return &pb.TransactionResponse{Success: false, Message: msgUnknownBank}
	}
	if txn.Amount <= 0 {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return &pb.TransactionResponse{Success: false, Message: msgInvalidAmount}
	}

	logger := s.logger.WithFields(log.Fields{
		"txn":       txn.Id,
		"fromBank":  txn.FromBank,
		"toBank":    txn.ToBank,
		"amount":    txn.Amount,
		"timestamp": txn.Timestamp,
	})

	// Stable participant order: sender bank first, then recipient bank.
	banks := []string{txn.FromBank}
	if txn.ToBank != txn.FromBank {
		banks = append(banks, txn.ToBank)
	}

	coordinator := twopc.NewCoordinator(txn.Id, 2*s.callTimeout)
	for _, name := range banks {
		conn, err := s.dir.Conn(name)
		if err != nil {
			logger.WithError(err).Warn("payment rejected: bank unreachable")
			metrics.PaymentsTotal.WithLabelValues("aborted").Inc()
			return &pb.TransactionResponse{Success: false, Message: msgAborted}
		}
		_ = coordinator.AddParticipant(&bankParticipant{
			name:    name,
			client:  pb.NewBankServiceClient(conn),
			txn:     txn,
			timeout: s.callTimeout,
		})
	}

	allPrepared, err := coordinator.Prepare(ctx)
	if err != nil || !allPrepared {
		if err != nil {
			logger.WithError(err).Info("payment aborted in prepare phase")
		} else {
			logger.Info("payment aborted: not all participants voted yes")
		}
		if abortErr := coordinator.Abort(ctx); abortErr != nil {
			logger.WithError(abortErr).Warn("abort phase had errors")
		}
		metrics.PaymentsTotal.WithLabelValues("aborted").Inc()
		return &pb.TransactionResponse{Success: false, Message: msgAborted}
	}

	// The decision is logged before any Commit goes out; there is no
	// durable decision record, so a coordinator crash from here on leaves
	// reservations for the operator to reconcile.
	logger.WithField("participants", banks).Info("commit decision reached")

	if err := coordinator.Commit(ctx); err != nil {
		logger.WithError(err).Error("payment failed after commit decision")
		metrics.PaymentsTotal.WithLabelValues("commit_failed").Inc()
		metrics.CommitPhaseFailures.Inc()
		return &pb.TransactionResponse{Success: false, Message: msgCommitFailed}
	}

	logger.Info("payment committed")
	metrics.PaymentsTotal.WithLabelValues("committed").Inc()
	return &pb.TransactionResponse{Success: true, Message: msgCommitted}
}
