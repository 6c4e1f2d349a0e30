package bank

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/mnohosten/interbank/pkg/protocol"
)

// AuthService implements the account registration and login RPCs for one
// bank node. Business failures are reported in reply fields, not as
// transport errors; the gateway forwards replies unchanged.
type AuthService struct {
	pb.UnimplementedAuthServiceServer

	store *Store
}

// NewAuthService creates the auth service over the bank's store.
func NewAuthService(store *Store) *AuthService {
	return &AuthService{store: store}
}

// RegisterAccount creates an account and returns its number. The session
// key is obtained by logging in.
func (s *AuthService) RegisterAccount(ctx context.Context, req *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	number, _, err := s.store.Register(req.Username, req.Password, req.InitialAmount)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return &pb.RegisterResponse{
				Success: false,
				Message: fmt.Sprintf("Username %q is already registered in %s", req.Username, s.store.BankName()),
			}, nil
		}
		return &pb.RegisterResponse{Success: false, Message: err.Error()}, nil
	}

	return &pb.RegisterResponse{
		AccountNumber: number,
		Message:       "Account registered successfully",
		Success:       true,
	}, nil
}

// LoginAccount verifies credentials and returns the account number and
// session key stored at registration.
func (s *AuthService) LoginAccount(ctx context.Context, req *pb.LoginRequest) (*pb.LoginResponse, error) {
	number, key, err := s.store.Login(req.Username, req.Password, req.BankName)
	if err != nil {
		switch {
		case errors.Is(err, ErrWrongBank):
			return &pb.LoginResponse{Message: "Invalid bank name"}, nil
		default:
			return &pb.LoginResponse{Message: "Invalid credentials"}, nil
		}
	}

	return &pb.LoginResponse{
		AccountNumber: number,
		Key:           key,
		Message:       "Login successful",
	}, nil
}

// Service implements the BankService RPCs: balance queries plus the three
// two-phase commit verbs.
type Service struct {
	pb.UnimplementedBankServiceServer

	store *Store
}

// NewService creates the bank service over the bank's store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// GetBalance returns the account balance, authorizing by session key.
func (s *Service) GetBalance(ctx context.Context, req *pb.Account) (*pb.BalanceResponse, error) {
	balance, err := s.store.Balance(req.Number, req.Key)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			return &pb.BalanceResponse{Error: true, Message: "Account not found"}, nil
		case errors.Is(err, ErrUnauthorized):
			return &pb.BalanceResponse{Error: true, Message: "Unauthorized"}, nil
		default:
			return &pb.BalanceResponse{Error: true, Message: err.Error()}, nil
		}
	}

	return &pb.BalanceResponse{Balance: balance}, nil
}

// Prepare votes on the transaction, reserving sender funds on yes.
func (s *Service) Prepare(ctx context.Context, txn *pb.Transaction) (*pb.PrepareResponse, error) {
	canCommit := s.store.Prepare(txn.Id, txn.FromBank, txn.FromAccount, txn.ToBank, txn.ToAccount, txn.Amount)
	return &pb.PrepareResponse{CanCommit: canCommit}, nil
}

// Commit finalizes a prepared transaction.
func (s *Service) Commit(ctx context.Context, txn *pb.Transaction) (*pb.OperationResponse, error) {
	return &pb.OperationResponse{Success: s.store.Commit(txn.Id, txn.ToAccount)}, nil
}

// Abort releases a prepared transaction.
func (s *Service) Abort(ctx context.Context, txn *pb.Transaction) (*pb.OperationResponse, error) {
	return &pb.OperationResponse{Success: s.store.Abort(txn.Id, txn.FromAccount)}, nil
}
