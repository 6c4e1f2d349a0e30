package gateway

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/mnohosten/interbank/pkg/bank"
	pb "github.com/mnohosten/interbank/pkg/protocol"
)

const bufSize = 1024 * 1024

// testCluster is an in-process topology: real bank nodes on bufconn
// listeners behind a gateway service.
type testCluster struct {
	service *Service
	banks   map[string]*bank.Server
	events  *recordingSink
}

type recordingSink struct {
	mu     sync.Mutex
	events []PaymentEvent
}

func (r *recordingSink) PaymentProcessed(event PaymentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) last(t *testing.T) PaymentEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("expected a payment event")
	}
	return r.events[len(r.events)-1]
}

func newTestCluster(t *testing.T, bankNames ...string) *testCluster {
	t.Helper()

	listeners := make(map[string]*bufconn.Listener)
	banks := make(map[string]*bank.Server)
	table := make(map[string]string)

	for _, name := range bankNames {
		config := bank.DefaultConfig()
		config.Name = name
		config.CertsDir = "" // plaintext over bufconn

		srv, err := bank.NewServer(config)
		if err != nil {
			t.Fatalf("failed to create bank %s: %v", name, err)
		}

		lis := bufconn.Listen(bufSize)
		go srv.Serve(lis)
		t.Cleanup(srv.Stop)

		listeners[name] = lis
		banks[name] = srv
		table[name] = "bufconn"
	}

	dir := NewDirectory(table, func(name, addr string) (*grpc.ClientConn, error) {
		lis := listeners[name]
		return grpc.NewClient("passthrough:///"+name,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	})
	t.Cleanup(dir.Close)

	events := &recordingSink{}
	return &testCluster{
		service: NewService(dir, time.Second, events),
		banks:   banks,
		events:  events,
	}
}

// openAccount registers and logs in one account, returning its number and
// session key.
func (c *testCluster) openAccount(t *testing.T, bankName, username string, amount float64) (string, string) {
	t.Helper()
	ctx := context.Background()

	reg, err := c.service.RegisterAccount(ctx, &pb.RegisterRequest{
		Username:      username,
		Password:      "password1",
		BankName:      bankName,
		InitialAmount: amount,
	})
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}
	if !reg.Success {
		t.Fatalf("registration rejected: %s", reg.Message)
	}

	login, err := c.service.Login(ctx, &pb.LoginRequest{
		Username: username,
		Password: "password1",
		BankName: bankName,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.AccountNumber == "" {
		t.Fatalf("login rejected: %s", login.Message)
	}
	return login.AccountNumber, login.Key
}

func (c *testCluster) balance(t *testing.T, bankName, number, key string) float64 {
	t.Helper()
	resp, err := c.service.GetBalance(context.Background(), &pb.Account{
		Number:   number,
		BankName: bankName,
		Key:      key,
	})
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if resp.Error {
		t.Fatalf("balance query rejected: %s", resp.Message)
	}
	return resp.Balance
}

func (c *testCluster) pay(t *testing.T, txnID, fromBank, fromAccount, toBank, toAccount string, amount float64) *pb.TransactionResponse {
	t.Helper()
	resp, err := c.service.ProcessPayment(context.Background(), &pb.Transaction{
		Id:          txnID,
		FromAccount: fromAccount,
		FromBank:    fromBank,
		ToAccount:   toAccount,
		ToBank:      toBank,
		Amount:      amount,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}
	return resp
}

func (c *testCluster) totalFunds() float64 {
	var total float64
	for _, srv := range c.banks {
		total += srv.Store().TotalFunds()
	}
	return total
}

func TestInterBankPayment(t *testing.T) {
	cluster := newTestCluster(t, "bank_a", "bank_b")

	fromNumber, fromKey := cluster.openAccount(t, "bank_a", "alice", 100)
	toNumber, toKey := cluster.openAccount(t, "bank_b", "bob", 10)

	resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_b", toNumber, 30)
	if !resp.Success || resp.Message != "Payment Successful" {
		t.Fatalf("expected committed payment, got %+v", resp)
	}

	if got := cluster.balance(t, "bank_a", fromNumber, fromKey); got != 70 {
		t.Errorf("expected sender balance 70, got %v", got)
	}
	if got := cluster.balance(t, "bank_b", toNumber, toKey); got != 40 {
		t.Errorf("expected recipient balance 40, got %v", got)
	}
	if got := cluster.totalFunds(); got != 110 {
		t.Errorf("expected total funds 110, got %v", got)
	}

	event := cluster.events.last(t)
	if event.TxnID != "txn-1" || !event.Success {
		t.Errorf("unexpected payment event: %+v", event)
	}
}

func TestInsufficientFundsAborts(t *testing.T) {
	cluster := newTestCluster(t, "bank_a", "bank_b")

	fromNumber, fromKey := cluster.openAccount(t, "bank_a", "alice", 100)
	toNumber, toKey := cluster.openAccount(t, "bank_b", "bob", 10)

	resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_b", toNumber, 500)
	if resp.Success {
		t.Fatal("expected aborted payment")
	}
	if resp.Message != "Invalid account, or insufficient funds, or both. ABORT!" {
		t.Errorf("unexpected abort message: %s", resp.Message)
	}

	// Both legs untouched, no reservations left behind.
	if got := cluster.balance(t, "bank_a", fromNumber, fromKey); got != 100 {
		t.Errorf("expected sender balance 100, got %v", got)
	}
	if got := cluster.balance(t, "bank_b", toNumber, toKey); got != 10 {
		t.Errorf("expected recipient balance 10, got %v", got)
	}
	for name, srv := range cluster.banks {
		if n := srv.Store().PreparedCount(); n != 0 {
			t.Errorf("bank %s: expected 0 prepared entries, got %d", name, n)
		}
	}
}

func TestUnknownRecipientAborts(t *testing.T) {
	cluster := newTestCluster(t, "bank_a", "bank_b")

	fromNumber, fromKey := cluster.openAccount(t, "bank_a", "alice", 100)

	resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_b", "no-such-account", 30)
	if resp.Success {
		t.Fatal("expected aborted payment")
	}
	if got := cluster.balance(t, "bank_a", fromNumber, fromKey); got != 100 {
		t.Errorf("expected sender reservation released, balance 100, got %v", got)
	}
}

func TestUnknownBankRejected(t *testing.T) {
	cluster := newTestCluster(t, "bank_a")

	fromNumber, _ := cluster.openAccount(t, "bank_a", "alice", 100)

	resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_z", "whoever", 30)
	if resp.Success || resp.Message != "Bank not found" {
		t.Errorf("expected Bank not found, got %+v", resp)
	}
}

func TestNonPositiveAmountRejected(t *testing.T) {
	cluster := newTestCluster(t, "bank_a", "bank_b")

	fromNumber, _ := cluster.openAccount(t, "bank_a", "alice", 100)
	toNumber, _ := cluster.openAccount(t, "bank_b", "bob", 10)

	for _, amount := range []float64{0, -5} {
		resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_b", toNumber, amount)
		if resp.Success || resp.Message != "Cannot send non-positive amounts" {
			t.Errorf("amount %v: expected rejection, got %+v", amount, resp)
		}
	}
}

func TestIntraBankPayment(t *testing.T) {
	cluster := newTestCluster(t, "bank_a")

	fromNumber, fromKey := cluster.openAccount(t, "bank_a", "alice", 100)
	toNumber, toKey := cluster.openAccount(t, "bank_a", "bob", 10)

	// A single composite participant handles both legs.
	resp := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_a", toNumber, 25)
	if !resp.Success {
		t.Fatalf("expected committed payment, got %+v", resp)
	}

	if got := cluster.balance(t, "bank_a", fromNumber, fromKey); got != 75 {
		t.Errorf("expected sender balance 75, got %v", got)
	}
	if got := cluster.balance(t, "bank_a", toNumber, toKey); got != 35 {
		t.Errorf("expected recipient balance 35, got %v", got)
	}
}

func TestDuplicateTxnIDAborts(t *testing.T) {
	cluster := newTestCluster(t, "bank_a", "bank_b")

	fromNumber, fromKey := cluster.openAccount(t, "bank_a", "alice", 100)
	toNumber, toKey := cluster.openAccount(t, "bank_b", "bob", 10)

	first := cluster.pay(t, "txn-1", "bank_a", fromNumber, "bank_b", toNumber, 30)
	if !first.Success {
		t.Fatalf("expected first payment to commit, got %+v", first)
	}

	// Committed entries are gone, so the replayed id prepares again; the
	// duplicate guard protects in-flight transactions. Replay the id while
	// one is in flight by preparing directly.
	if !cluster.banks["bank_a"].Store().Prepare("txn-2", "bank_a", fromNumber, "bank_b", toNumber, 10) {
		t.Fatal("expected direct prepare to vote yes")
	}
	second := cluster.pay(t, "txn-2", "bank_a", fromNumber, "bank_b", toNumber, 10)
	if second.Success {
		t.Fatalf("expected duplicate txn id to abort, got %+v", second)
	}
	cluster.banks["bank_a"].Store().Abort("txn-2", fromNumber)

	if got := cluster.balance(t, "bank_a", fromNumber, fromKey); got != 70 {
		t.Errorf("expected sender balance 70, got %v", got)
	}
	if got := cluster.balance(t, "bank_b", toNumber, toKey); got != 40 {
		t.Errorf("expected recipient balance 40, got %v", got)
	}
}

func TestAuthForwarding(t *testing.T) {
	cluster := newTestCluster(t, "bank_a")
	ctx := context.Background()

	reg, err := cluster.service.RegisterAccount(ctx, &pb.RegisterRequest{
		Username: "alice",
		Password: "password1",
		BankName: "bank_z",
	})
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}
	if reg.Success || reg.Message != "Bank not found" {
		t.Errorf("expected unknown-bank rejection, got %+v", reg)
	}

	login, err := cluster.service.Login(ctx, &pb.LoginRequest{
		Username: "alice",
		Password: "password1",
		BankName: "bank_z",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.AccountNumber != "" || login.Message != "Bank not found" {
		t.Errorf("expected unknown-bank rejection, got %+v", login)
	}

	balance, err := cluster.service.GetBalance(ctx, &pb.Account{Number: "x", BankName: "bank_z"})
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Error || balance.Message != "Bank not found" {
		t.Errorf("expected unknown-bank rejection, got %+v", balance)
	}
}

func TestHealthCheck(t *testing.T) {
	cluster := newTestCluster(t, "bank_a")

	resp, err := cluster.service.HealthCheck(context.Background(), &pb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !resp.Up {
		t.Error("expected gateway to report up")
	}
}
