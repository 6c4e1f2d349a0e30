package gateway

import (
	"errors"
	"reflect"
	"testing"

	"google.golang.org/grpc"
)

func TestParseBankTable(t *testing.T) {
	table, err := ParseBankTable("bank_a=localhost:50055, bank_b=localhost:50056")
	if err != nil {
		t.Fatalf("ParseBankTable failed: %v", err)
	}
	want := map[string]string{
		"bank_a": "localhost:50055",
		"bank_b": "localhost:50056",
	}
	if !reflect.DeepEqual(table, want) {
		t.Errorf("got %v, want %v", table, want)
	}
}

func TestParseBankTableInvalid(t *testing.T) {
	for _, input := range []string{"", "bank_a", "=localhost:50055", "bank_a="} {
		if _, err := ParseBankTable(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestDirectoryLookup(t *testing.T) {
	dialed := 0
	dir := NewDirectory(map[string]string{"bank_a": "addr-a"}, func(name, addr string) (*grpc.ClientConn, error) {
		dialed++
		return &grpc.ClientConn{}, nil
	})

	if !dir.Has("bank_a") || dir.Has("bank_z") {
		t.Error("unexpected directory membership")
	}
	if got := dir.Names(); len(got) != 1 || got[0] != "bank_a" {
		t.Errorf("unexpected names: %v", got)
	}

	if _, err := dir.Conn("bank_z"); !errors.Is(err, ErrUnknownBank) {
		t.Errorf("expected ErrUnknownBank, got %v", err)
	}

	// Connections are pooled: one dial for two lookups.
	if _, err := dir.Conn("bank_a"); err != nil {
		t.Fatalf("Conn failed: %v", err)
	}
	if _, err := dir.Conn("bank_a"); err != nil {
		t.Fatalf("Conn failed: %v", err)
	}
	if dialed != 1 {
		t.Errorf("expected 1 dial, got %d", dialed)
	}
}
