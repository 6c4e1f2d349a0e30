package bank

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mnohosten/interbank/pkg/metrics"
)

const (
	saltLength     = 16
	iterationCount = 4096
	keyLength      = 32
)

// role describes which sides of a transaction this bank holds. An
// intra-bank transfer sets both bits on a single composite entry so that
// Abort restores the sender leg and Commit credits the recipient leg.
type role uint8

const (
	roleSender role = 1 << iota
	roleRecipient
)

// Account is one entry of the bank's shard. The session key is derived
// deterministically at registration and returned again on login; the
// password itself is kept only as a salted PBKDF2 verifier.
type Account struct {
	Number     string
	Username   string
	Balance    float64
	SessionKey string

	passwordSalt []byte
	passwordHash []byte
}

// preparedEntry is the per-transaction reservation held between Prepare
// and Commit/Abort.
type preparedEntry struct {
	role   role
	amount float64
	from   string
	to     string
}

// Store is the authoritative owner of one bank's account shard and its
// side of the two-phase commit protocol. A single mutex guards the
// accounts map, the username index and the prepared entries; every
// operation is a serial point and the store makes no outbound calls.
type Store struct {
	bankName string

	mu        sync.Mutex
	accounts  map[string]*Account
	usernames map[string]string // username -> account number
	prepared  map[string]*preparedEntry
}

// NewStore creates an empty store for the named bank.
func NewStore(bankName string) *Store {
	return &Store{
		bankName:  bankName,
		accounts:  make(map[string]*Account),
		usernames: make(map[string]string),
		prepared:  make(map[string]*preparedEntry),
	}
}

// BankName returns the name this store answers for.
func (s *Store) BankName() string {
	return s.bankName
}

// Register creates an account with an initial balance and returns its
// number and session key. Usernames are unique within the bank.
func (s *Store) Register(username, password string, initialAmount float64) (string, string, error) {
	if initialAmount < 0 {
		return "", "", ErrInvalidAmount
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usernames[username]; exists {
		return "", "", ErrUsernameTaken
	}

	account := &Account{
		Number:       uuid.NewString(),
		Username:     username,
		Balance:      initialAmount,
		SessionKey:   deriveSessionKey(username, password),
		passwordSalt: salt,
		passwordHash: hashPassword(password, salt),
	}
	s.accounts[account.Number] = account
	s.usernames[username] = account.Number

	return account.Number, account.SessionKey, nil
}

// Login verifies credentials and returns the account number and the
// session key stored at registration.
func (s *Store) Login(username, password, bankName string) (string, string, error) {
	if bankName != s.bankName {
		return "", "", ErrWrongBank
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	number, exists := s.usernames[username]
	if !exists {
		return "", "", ErrInvalidCredentials
	}
	account := s.accounts[number]
	if !hmac.Equal(account.passwordHash, hashPassword(password, account.passwordSalt)) {
		return "", "", ErrInvalidCredentials
	}

	return account.Number, account.SessionKey, nil
}

// Balance returns the current balance of the account, authorizing the
// caller by session key.
func (s *Store) Balance(number, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[number]
	if !exists {
		return 0, ErrAccountNotFound
	}
	if subtle.ConstantTimeCompare([]byte(account.SessionKey), []byte(key)) != 1 {
		return 0, ErrUnauthorized
	}

	return account.Balance, nil
}

// Prepare votes on a transaction. A yes vote reserves the sender's funds
// by debiting them immediately, so Commit needs no further sender action
// and Abort restores exactly the reservation. The vote is no when the
// transaction id was already prepared here, when neither account belongs
// to this bank, when the amount is not positive, or when the sender's
// balance cannot cover the amount.
func (s *Store) Prepare(txnID, fromBank, fromAccount, toBank, toAccount string, amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prepared[txnID]; exists {
		return false
	}
	if amount <= 0 {
		return false
	}

	_, hasFrom := s.accounts[fromAccount]
	_, hasTo := s.accounts[toAccount]
	isSender := fromBank == s.bankName && hasFrom
	isRecipient := toBank == s.bankName && hasTo

	if !isSender && !isRecipient {
		return false
	}

	entry := &preparedEntry{amount: amount, from: fromAccount, to: toAccount}
	if isSender {
		sender := s.accounts[fromAccount]
		if sender.Balance < amount {
			return false
		}
		sender.Balance -= amount
		entry.role |= roleSender
	}
	if isRecipient {
		entry.role |= roleRecipient
	}

	s.prepared[txnID] = entry
	metrics.PreparedEntries.Inc()
	return true
}

// Commit finalizes a prepared transaction: recipient-role entries credit
// the recipient by the reserved amount; sender funds were already debited
// in Prepare. Returns false when no entry exists, which means the
// coordinator is retrying past completion or has lost state.
func (s *Store) Commit(txnID, toAccount string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.prepared[txnID]
	if !exists {
		return false
	}

	if entry.role&roleRecipient != 0 {
		if recipient, ok := s.accounts[toAccount]; ok {
			recipient.Balance += entry.amount
		}
	}

	delete(s.prepared, txnID)
	metrics.PreparedEntries.Dec()
	return true
}

// Abort releases a prepared transaction: sender-role entries restore the
// reservation to the sender; recipient-only entries never credited and
// need no balance change. Returns false when no entry exists.
func (s *Store) Abort(txnID, fromAccount string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.prepared[txnID]
	if !exists {
		return false
	}

	if entry.role&roleSender != 0 {
		if sender, ok := s.accounts[fromAccount]; ok {
			sender.Balance += entry.amount
		}
	}

	delete(s.prepared, txnID)
	metrics.PreparedEntries.Dec()
	return true
}

// PreparedCount returns the number of reservations currently held.
func (s *Store) PreparedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prepared)
}

// TotalFunds returns the sum of all balances plus in-flight sender
// reservations. Across a set of banks this quantity is conserved by every
// committed or aborted transfer.
func (s *Store) TotalFunds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, account := range s.accounts {
		total += account.Balance
	}
	for _, entry := range s.prepared {
		if entry.role&roleSender != 0 {
			total += entry.amount
		}
	}
	return total
}

// deriveSessionKey derives the deterministic bearer token for a
// credential pair: base64url over the full SHA-256 digest of
// username concatenated with password. It is never logged.
func deriveSessionKey(username, password string) string {
	sum := sha256.Sum256([]byte(username + password))
	return base64.URLEncoding.EncodeToString(sum[:])
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterationCount, keyLength, sha256.New)
}
