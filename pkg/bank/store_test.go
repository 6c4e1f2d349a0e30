package bank

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	store := NewStore("bank_a")
	number, key, err := store.Register("alice", "password1", 100)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	return store, number, key
}

func TestRegister(t *testing.T) {
	store := NewStore("bank_a")

	number, key, err := store.Register("alice", "password1", 100)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if number == "" || key == "" {
		t.Fatal("expected a non-empty account number and session key")
	}

	balance, err := store.Balance(number, key)
	if err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	if balance != 100 {
		t.Errorf("expected balance 100, got %v", balance)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	store, _, _ := newTestStore(t)

	if _, _, err := store.Register("alice", "other", 50); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterNegativeInitialAmount(t *testing.T) {
	store := NewStore("bank_a")

	if _, _, err := store.Register("bob", "password1", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	store, number, key := newTestStore(t)

	gotNumber, gotKey, err := store.Login("alice", "password1", "bank_a")
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}
	if gotNumber != number {
		t.Errorf("expected account %s, got %s", number, gotNumber)
	}
	if gotKey != key {
		t.Error("expected login to return the registration session key")
	}
}

func TestLoginWrongBank(t *testing.T) {
	store, _, _ := newTestStore(t)

	if _, _, err := store.Login("alice", "password1", "bank_b"); !errors.Is(err, ErrWrongBank) {
		t.Errorf("expected ErrWrongBank, got %v", err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	store, _, _ := newTestStore(t)

	if _, _, err := store.Login("alice", "wrong", "bank_a"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, _, err := store.Login("mallory", "password1", "bank_a"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestSessionKeyDerivation(t *testing.T) {
	store, _, key := newTestStore(t)

	sum := sha256.Sum256([]byte("alice" + "password1"))
	want := base64.URLEncoding.EncodeToString(sum[:])
	if key != want {
		t.Errorf("session key mismatch: got %s, want %s", key, want)
	}

	// Same credentials at another store derive the same key.
	other := NewStore("bank_b")
	_, otherKey, err := other.Register("alice", "password1", 0)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if otherKey != key {
		t.Error("expected deterministic key derivation")
	}
	_ = store
}

func TestBalanceAuthorization(t *testing.T) {
	store, number, _ := newTestStore(t)

	if _, err := store.Balance(number, "bogus-key"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := store.Balance("no-such-account", "any"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPrepareReservesFunds(t *testing.T) {
	store, number, key := newTestStore(t)

	if !store.Prepare("txn-1", "bank_a", number, "bank_b", "remote", 60) {
		t.Fatal("expected yes vote")
	}

	// The reservation debits immediately.
	balance, _ := store.Balance(number, key)
	if balance != 40 {
		t.Errorf("expected balance 40 after reservation, got %v", balance)
	}
	if store.PreparedCount() != 1 {
		t.Errorf("expected 1 prepared entry, got %d", store.PreparedCount())
	}

	// A second transfer beyond the remaining balance is refused.
	if store.Prepare("txn-2", "bank_a", number, "bank_b", "remote", 50) {
		t.Error("expected no vote: reservation must count against the balance")
	}
}

func TestPrepareRejections(t *testing.T) {
	store, number, _ := newTestStore(t)

	if store.Prepare("txn-1", "bank_a", number, "bank_b", "remote", 0) {
		t.Error("expected no vote for zero amount")
	}
	if store.Prepare("txn-2", "bank_a", number, "bank_b", "remote", -5) {
		t.Error("expected no vote for negative amount")
	}
	if store.Prepare("txn-3", "bank_a", "no-such-account", "bank_b", "remote", 10) {
		t.Error("expected no vote when neither account belongs to this bank")
	}
	if store.Prepare("txn-4", "bank_a", number, "bank_b", "remote", 1000) {
		t.Error("expected no vote for insufficient funds")
	}
}

func TestPrepareDuplicateTxnID(t *testing.T) {
	store, number, _ := newTestStore(t)

	if !store.Prepare("txn-1", "bank_a", number, "bank_b", "remote", 10) {
		t.Fatal("expected yes vote")
	}
	if store.Prepare("txn-1", "bank_a", number, "bank_b", "remote", 10) {
		t.Error("expected no vote for duplicate transaction id")
	}
}

func TestCommitCreditsRecipient(t *testing.T) {
	sender := NewStore("bank_a")
	recipient := NewStore("bank_b")

	fromNumber, fromKey, _ := sender.Register("alice", "password1", 100)
	toNumber, toKey, _ := recipient.Register("bob", "password2", 10)

	if !sender.Prepare("txn-1", "bank_a", fromNumber, "bank_b", toNumber, 30) {
		t.Fatal("sender expected yes vote")
	}
	if !recipient.Prepare("txn-1", "bank_a", fromNumber, "bank_b", toNumber, 30) {
		t.Fatal("recipient expected yes vote")
	}

	if !sender.Commit("txn-1", toNumber) {
		t.Fatal("sender commit failed")
	}
	if !recipient.Commit("txn-1", toNumber) {
		t.Fatal("recipient commit failed")
	}

	fromBalance, _ := sender.Balance(fromNumber, fromKey)
	toBalance, _ := recipient.Balance(toNumber, toKey)
	if fromBalance != 70 {
		t.Errorf("expected sender balance 70, got %v", fromBalance)
	}
	if toBalance != 40 {
		t.Errorf("expected recipient balance 40, got %v", toBalance)
	}
	if sender.PreparedCount() != 0 || recipient.PreparedCount() != 0 {
		t.Error("expected prepared entries to be cleared after commit")
	}
}

func TestAbortRestoresSender(t *testing.T) {
	store, number, key := newTestStore(t)

	if !store.Prepare("txn-1", "bank_a", number, "bank_b", "remote", 60) {
		t.Fatal("expected yes vote")
	}
	if !store.Abort("txn-1", number) {
		t.Fatal("abort failed")
	}

	balance, _ := store.Balance(number, key)
	if balance != 100 {
		t.Errorf("expected balance restored to 100, got %v", balance)
	}
	if store.PreparedCount() != 0 {
		t.Errorf("expected 0 prepared entries, got %d", store.PreparedCount())
	}
}

func TestCommitUnknownTxn(t *testing.T) {
	store, number, _ := newTestStore(t)

	if store.Commit("txn-missing", number) {
		t.Error("expected commit of unknown txn to report false")
	}
	if store.Abort("txn-missing", number) {
		t.Error("expected abort of unknown txn to report false")
	}
}

func TestIntraBankTransfer(t *testing.T) {
	store := NewStore("bank_a")
	fromNumber, fromKey, _ := store.Register("alice", "password1", 100)
	toNumber, toKey, _ := store.Register("bob", "password2", 10)

	// One composite reservation covers both legs.
	if !store.Prepare("txn-1", "bank_a", fromNumber, "bank_a", toNumber, 25) {
		t.Fatal("expected yes vote")
	}
	if store.PreparedCount() != 1 {
		t.Fatalf("expected a single composite entry, got %d", store.PreparedCount())
	}

	if !store.Commit("txn-1", toNumber) {
		t.Fatal("commit failed")
	}

	fromBalance, _ := store.Balance(fromNumber, fromKey)
	toBalance, _ := store.Balance(toNumber, toKey)
	if fromBalance != 75 {
		t.Errorf("expected sender balance 75, got %v", fromBalance)
	}
	if toBalance != 35 {
		t.Errorf("expected recipient balance 35, got %v", toBalance)
	}
}

func TestIntraBankAbort(t *testing.T) {
	store := NewStore("bank_a")
	fromNumber, fromKey, _ := store.Register("alice", "password1", 100)
	toNumber, toKey, _ := store.Register("bob", "password2", 10)

	if !store.Prepare("txn-1", "bank_a", fromNumber, "bank_a", toNumber, 25) {
		t.Fatal("expected yes vote")
	}
	if !store.Abort("txn-1", fromNumber) {
		t.Fatal("abort failed")
	}

	fromBalance, _ := store.Balance(fromNumber, fromKey)
	toBalance, _ := store.Balance(toNumber, toKey)
	if fromBalance != 100 {
		t.Errorf("expected sender balance restored to 100, got %v", fromBalance)
	}
	if toBalance != 10 {
		t.Errorf("expected recipient balance unchanged at 10, got %v", toBalance)
	}
}

func TestTotalFundsConservation(t *testing.T) {
	store := NewStore("bank_a")
	fromNumber, _, _ := store.Register("alice", "password1", 100)
	toNumber, _, _ := store.Register("bob", "password2", 50)

	if got := store.TotalFunds(); got != 150 {
		t.Fatalf("expected total funds 150, got %v", got)
	}

	// A reservation moves funds out of the balance but not out of the bank.
	if !store.Prepare("txn-1", "bank_a", fromNumber, "bank_a", toNumber, 30) {
		t.Fatal("expected yes vote")
	}
	if got := store.TotalFunds(); got != 150 {
		t.Errorf("expected total funds 150 while prepared, got %v", got)
	}

	store.Commit("txn-1", toNumber)
	if got := store.TotalFunds(); got != 150 {
		t.Errorf("expected total funds 150 after commit, got %v", got)
	}
}

func TestConcurrentPreparesNeverOverdraw(t *testing.T) {
	store, number, key := newTestStore(t)

	// 20 concurrent transfers of 10 against a balance of 100: exactly 10
	// may win.
	var wg sync.WaitGroup
	votes := make([]bool, 20)
	for i := range votes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			votes[i] = store.Prepare(fmt.Sprintf("txn-%d", i), "bank_a", number, "bank_b", "remote", 10)
		}(i)
	}
	wg.Wait()

	yes := 0
	for _, v := range votes {
		if v {
			yes++
		}
	}
	if yes != 10 {
		t.Errorf("expected exactly 10 yes votes, got %d", yes)
	}

	balance, _ := store.Balance(number, key)
	if balance != 0 {
		t.Errorf("expected balance 0, got %v", balance)
	}
	if balance < 0 {
		t.Error("balance must never go negative")
	}
}
