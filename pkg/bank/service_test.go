package bank

import (
	"context"
	"testing"

	pb "github.com/mnohosten/interbank/pkg/protocol"
)

func TestAuthServiceRegister(t *testing.T) {
	store := NewStore("bank_a")
	svc := NewAuthService(store)
	ctx := context.Background()

	resp, err := svc.RegisterAccount(ctx, &pb.RegisterRequest{
		Username:      "alice",
		Password:      "password1",
		BankName:      "bank_a",
		InitialAmount: 100,
	})
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}
	if !resp.Success || resp.AccountNumber == "" {
		t.Fatalf("expected successful registration, got %+v", resp)
	}

	// Duplicate username is a business failure, not a transport error.
	dup, err := svc.RegisterAccount(ctx, &pb.RegisterRequest{
		Username: "alice",
		Password: "other",
		BankName: "bank_a",
	})
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}
	if dup.Success {
		t.Error("expected duplicate registration to fail")
	}
	if dup.Message != `Username "alice" is already registered in bank_a` {
		t.Errorf("unexpected message: %s", dup.Message)
	}
}

func TestAuthServiceLogin(t *testing.T) {
	store := NewStore("bank_a")
	svc := NewAuthService(store)
	ctx := context.Background()

	reg, err := svc.RegisterAccount(ctx, &pb.RegisterRequest{
		Username: "alice",
		Password: "password1",
		BankName: "bank_a",
	})
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	resp, err := svc.LoginAccount(ctx, &pb.LoginRequest{
		Username: "alice",
		Password: "password1",
		BankName: "bank_a",
	})
	if err != nil {
		t.Fatalf("LoginAccount failed: %v", err)
	}
	if resp.AccountNumber != reg.AccountNumber {
		t.Errorf("expected account %s, got %s", reg.AccountNumber, resp.AccountNumber)
	}
	if resp.Key == "" {
		t.Error("expected a session key")
	}

	wrongBank, _ := svc.LoginAccount(ctx, &pb.LoginRequest{
		Username: "alice",
		Password: "password1",
		BankName: "bank_b",
	})
	if wrongBank.AccountNumber != "" || wrongBank.Message != "Invalid bank name" {
		t.Errorf("expected wrong-bank rejection, got %+v", wrongBank)
	}

	badPassword, _ := svc.LoginAccount(ctx, &pb.LoginRequest{
		Username: "alice",
		Password: "nope",
		BankName: "bank_a",
	})
	if badPassword.AccountNumber != "" || badPassword.Message != "Invalid credentials" {
		t.Errorf("expected credential rejection, got %+v", badPassword)
	}
}

func TestServiceGetBalance(t *testing.T) {
	store := NewStore("bank_a")
	svc := NewService(store)
	ctx := context.Background()

	number, key, err := store.Register("alice", "password1", 42)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	resp, err := svc.GetBalance(ctx, &pb.Account{Number: number, BankName: "bank_a", Key: key})
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if resp.Error || resp.Balance != 42 {
		t.Errorf("expected balance 42, got %+v", resp)
	}

	unauthorized, _ := svc.GetBalance(ctx, &pb.Account{Number: number, Key: "bogus"})
	if !unauthorized.Error || unauthorized.Message != "Unauthorized" {
		t.Errorf("expected Unauthorized, got %+v", unauthorized)
	}

	missing, _ := svc.GetBalance(ctx, &pb.Account{Number: "no-such", Key: key})
	if !missing.Error || missing.Message != "Account not found" {
		t.Errorf("expected Account not found, got %+v", missing)
	}
}

func TestServiceTwoPhaseVerbs(t *testing.T) {
	store := NewStore("bank_a")
	svc := NewService(store)
	ctx := context.Background()

	number, key, err := store.Register("alice", "password1", 100)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	txn := &pb.Transaction{
		Id:          "txn-1",
		FromAccount: number,
		FromBank:    "bank_a",
		ToAccount:   "remote",
		ToBank:      "bank_b",
		Amount:      60,
	}

	prep, err := svc.Prepare(ctx, txn)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if !prep.CanCommit {
		t.Fatal("expected yes vote")
	}

	// A retried prepare for the same txn votes no.
	retry, _ := svc.Prepare(ctx, txn)
	if retry.CanCommit {
		t.Error("expected no vote for duplicate txn id")
	}

	abort, err := svc.Abort(ctx, txn)
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if !abort.Success {
		t.Error("expected abort to succeed")
	}

	resp, _ := svc.GetBalance(ctx, &pb.Account{Number: number, Key: key})
	if resp.Balance != 100 {
		t.Errorf("expected balance restored to 100, got %v", resp.Balance)
	}

	commit, err := svc.Commit(ctx, txn)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if commit.Success {
		t.Error("expected commit of a released txn to report failure")
	}
}
