package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/grpc"
)

// ErrUnknownBank is returned when a bank name is not in the directory
var ErrUnknownBank = errors.New("bank not found")

// DialFunc opens a client connection to one bank. The name is the bank's
// directory name (and TLS server name), addr its network address.
type DialFunc func(name, addr string) (*grpc.ClientConn, error)

// Directory is the gateway's static mapping from bank name to address,
// loaded at startup and immutable afterwards. It owns one pooled client
// connection per bank; connections are dialed lazily and reused, never
// re-established per forwarded call.
type Directory struct {
	banks map[string]string
	dial  DialFunc

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewDirectory creates a directory over the given bank table.
func NewDirectory(banks map[string]string, dial DialFunc) *Directory {
	table := make(map[string]string, len(banks))
	for name, addr := range banks {
		table[name] = addr
	}
	return &Directory{
		banks: table,
		dial:  dial,
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Has reports whether the bank is in the directory.
func (d *Directory) Has(name string) bool {
	_, ok := d.banks[name]
	return ok
}

// Names returns the directory's bank names, sorted.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.banks))
	for name := range d.banks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Conn returns the pooled connection for the bank, dialing on first use.
func (d *Directory) Conn(name string) (*grpc.ClientConn, error) {
	addr, ok := d.banks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBank, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if conn, ok := d.conns[name]; ok {
		return conn, nil
	}
	conn, err := d.dial(name, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bank %s at %s: %w", name, addr, err)
	}
	d.conns[name] = conn
	return conn, nil
}

// Close closes all pooled connections.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, conn := range d.conns {
		_ = conn.Close()
		delete(d.conns, name)
	}
}

// ParseBankTable parses a "name=host:port,name=host:port" flag value into
// a directory table.
func ParseBankTable(s string) (map[string]string, error) {
	table := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, addr, ok := strings.Cut(pair, "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid bank entry %q, want name=host:port", pair)
		}
		table[name] = addr
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("bank table is empty")
	}
	return table, nil
}
