package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/mnohosten/interbank/pkg/metrics"
	pb "github.com/mnohosten/interbank/pkg/protocol"
	"github.com/mnohosten/interbank/pkg/rpc"
)

// ErrNotLoggedIn is returned when no session key is held for the account
var ErrNotLoggedIn = errors.New("not logged in to this account")

// Result is the outcome of one submitted payment. Queued means the
// gateway was unreachable and the transaction now waits in the offline
// queue; its final outcome is delivered through the OnResult callback
// once a drain resolves it.
type Result struct {
	TxnID   string
	Success bool
	Message string
	Queued  bool
	// Err is set when the transaction was dropped after retry
	// exhaustion, or carries the transport error that caused queueing.
	Err error
}

// Config holds configuration for the payments client.
type Config struct {
	// GatewayAddr is the gateway's host:port.
	GatewayAddr string

	// CertsDir holds ca.crt, client.crt and client.key. Empty disables
	// TLS (tests only).
	CertsDir string

	// CallTimeout bounds each RPC (default: 5s).
	CallTimeout time.Duration

	// Cooldown is the wait after a transport failure before the next
	// queue attempt (default: 5s).
	Cooldown time.Duration

	// MaxAttempts bounds retries per queued transaction before it is
	// dropped and reported (default: 5).
	MaxAttempts int

	// Clock drives the cooldown; nil selects the wall clock.
	Clock Clock

	// OnResult receives outcomes of queued transactions resolved during
	// drains. Nil outcomes are logged instead.
	OnResult func(Result)
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.CallTimeout == 0 {
		out.CallTimeout = 5 * time.Second
	}
	if out.Cooldown == 0 {
		out.Cooldown = 5 * time.Second
	}
	if out.MaxAttempts == 0 {
		out.MaxAttempts = 5
	}
	if out.Clock == nil {
		out.Clock = SystemClock
	}
	return &out
}

// Client submits payments through the gateway, holding per-account
// session keys from logins and an offline queue of payments that could
// not reach the gateway.
type Client struct {
	config *Config
	conn   *grpc.ClientConn
	gw     pb.GatewayServiceClient
	clock  Clock
	queue  *offlineQueue
	logger *log.Entry

	mu   sync.Mutex
	keys map[string]string // bank/account -> session key

	drainMu sync.Mutex
}

// New creates a client over an existing gateway stub. Tests use this to
// inject scripted gateways.
func New(gw pb.GatewayServiceClient, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	config = config.withDefaults()

	return &Client{
		config: config,
		gw:     gw,
		clock:  config.Clock,
		queue:  newOfflineQueue(config.Cooldown, config.MaxAttempts, config.Clock),
		logger: log.WithField("component", "client"),
		keys:   make(map[string]string),
	}
}

// Dial connects to the gateway with mutual TLS and returns a client.
func Dial(config *Config) (*Client, error) {
	if config == nil || config.GatewayAddr == "" {
		return nil, fmt.Errorf("gateway address must be set")
	}

	var creds *rpc.PeerCredentials
	if config.CertsDir != "" {
		var err error
		creds, err = rpc.LoadPeerCredentials(config.CertsDir, "client")
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
	}

	conn, err := rpc.Dial(config.GatewayAddr, creds, "gateway")
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	c := New(pb.NewGatewayServiceClient(conn), config)
	c.conn = conn
	return c, nil
}

// Close closes the gateway connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Register creates an account at the named bank and returns its number.
func (c *Client) Register(ctx context.Context, username, password, bankName string, initialAmount float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	resp, err := c.gw.RegisterAccount(ctx, &pb.RegisterRequest{
		Username:      username,
		Password:      password,
		BankName:      bankName,
		InitialAmount: initialAmount,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.New(resp.Message)
	}
	return resp.AccountNumber, nil
}

// Login authenticates and stores the session key for the account.
func (c *Client) Login(ctx context.Context, username, password, bankName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	resp, err := c.gw.Login(ctx, &pb.LoginRequest{
		Username: username,
		Password: password,
		BankName: bankName,
	})
	if err != nil {
		return "", err
	}
	if resp.AccountNumber == "" {
		return "", errors.New(resp.Message)
	}

	c.mu.Lock()
	c.keys[accountRef(bankName, resp.AccountNumber)] = resp.Key
	c.mu.Unlock()

	return resp.AccountNumber, nil
}

// Balance queries the balance of an account the client is logged in to.
func (c *Client) Balance(ctx context.Context, bankName, number string) (float64, error) {
	key, ok := c.sessionKey(bankName, number)
	if !ok {
		return 0, ErrNotLoggedIn
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	resp, err := c.gw.GetBalance(ctx, &pb.Account{Number: number, BankName: bankName, Key: key})
	if err != nil {
		return 0, err
	}
	if resp.Error {
		return 0, errors.New(resp.Message)
	}
	return resp.Balance, nil
}

// HealthCheck probes the gateway.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	resp, err := c.gw.HealthCheck(ctx, &pb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return resp.Up, nil
}

// Pay submits a payment. While the offline queue is non-empty new
// payments are appended behind it so the gateway sees this client's
// transactions in submission order; a drain is attempted when the
// cooldown allows. Queueing guarantees eventual submission or an
// eventual drop report, never eventual commit.
func (c *Client) Pay(ctx context.Context, txnID, fromBank, fromAccount, toBank, toAccount string, amount float64) (Result, error) {
	key, ok := c.sessionKey(fromBank, fromAccount)
	if !ok {
		return Result{}, ErrNotLoggedIn
	}

	txn := &pb.Transaction{
		Id:          txnID,
		FromAccount: fromAccount,
		FromBank:    fromBank,
		ToAccount:   toAccount,
		ToBank:      toBank,
		Amount:      amount,
		Timestamp:   c.clock.Now().Unix(),
		Key:         key,
	}

	if c.queue.Len() > 0 {
		c.queue.Enqueue(txn)
		c.logger.WithField("txn", txnID).Info("queued behind pending transactions")
		if c.queue.State() == QueueDraining {
			c.Drain(ctx)
		}
		return Result{TxnID: txnID, Queued: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	resp, err := c.gw.ProcessPayment(callCtx, txn)
	cancel()
	if err != nil {
		c.queue.Enqueue(txn)
		c.queue.RecordFailure()
		c.logger.WithField("txn", txnID).WithError(err).Warn("gateway unreachable, transaction queued")
		return Result{TxnID: txnID, Queued: true, Err: err}, nil
	}

	return Result{TxnID: txnID, Success: resp.Success, Message: resp.Message}, nil
}

// Drain attempts the head of the offline queue and keeps sending in order
// until the queue is empty, a transport failure starts a new cooldown, or
// the cooldown has not yet elapsed. Outcomes of resolved transactions are
// delivered through OnResult.
func (c *Client) Drain(ctx context.Context) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	for {
		if c.queue.State() != QueueDraining {
			return
		}
		txn := c.queue.Head()
		if txn == nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		resp, err := c.gw.ProcessPayment(callCtx, txn)
		cancel()

		if err != nil {
			if dropped := c.queue.RecordFailure(); dropped != nil {
				metrics.OfflineQueueDrops.Inc()
				c.report(Result{TxnID: dropped.Id, Err: fmt.Errorf("dropped after %d attempts: %w", c.config.MaxAttempts, err)})
			}
			return
		}

		c.queue.RecordSuccess()
		c.report(Result{TxnID: txn.Id, Success: resp.Success, Message: resp.Message})
	}
}

// Flush blocks until the offline queue is empty or ctx is done, sleeping
// through cooldowns on the injected clock.
func (c *Client) Flush(ctx context.Context) error {
	for c.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if remaining := c.queue.CooldownRemaining(); remaining > 0 {
			c.clock.Sleep(remaining)
			continue
		}
		c.Drain(ctx)
	}
	return nil
}

// QueueLen returns the number of transactions waiting in the offline
// queue.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// QueueState returns the offline queue's current state.
func (c *Client) QueueState() QueueState {
	return c.queue.State()
}

func (c *Client) report(r Result) {
	if c.config.OnResult != nil {
		c.config.OnResult(r)
		return
	}
	entry := c.logger.WithField("txn", r.TxnID)
	switch {
	case r.Err != nil:
		entry.WithError(r.Err).Warn("queued transaction dropped")
	case r.Success:
		entry.Info("queued transaction committed")
	default:
		entry.WithField("message", r.Message).Info("queued transaction failed")
	}
}

func (c *Client) sessionKey(bankName, number string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.keys[accountRef(bankName, number)]
	return key, ok
}

func accountRef(bankName, number string) string {
	return bankName + "/" + number
}
