package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/mnohosten/interbank/pkg/metrics"
	pb "github.com/mnohosten/interbank/pkg/protocol"
)

// bankParticipant adapts one bank's BankService stub to the coordinator's
// Participant interface for a single transaction. Every call carries its
// own deadline; a deadline exceeded in Prepare is a no vote, in Commit a
// commit failure.
type bankParticipant struct {
	name    string
	client  pb.BankServiceClient
	txn     *pb.Transaction
	timeout time.Duration
}

func (p *bankParticipant) ID() string {
	return p.name
}

func (p *bankParticipant) Prepare(ctx context.Context, txnID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Prepare(ctx, p.txn)
	if err != nil {
		metrics.PrepareVotes.WithLabelValues(p.name, "error").Inc()
		return false, err
	}
	if resp.CanCommit {
		metrics.PrepareVotes.WithLabelValues(p.name, "yes").Inc()
	} else {
		metrics.PrepareVotes.WithLabelValues(p.name, "no").Inc()
	}
	return resp.CanCommit, nil
}

func (p *bankParticipant) Commit(ctx context.Context, txnID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Commit(ctx, p.txn)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("commit refused by %s", p.name)
	}
	return nil
}

func (p *bankParticipant) Abort(ctx context.Context, txnID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Abort(ctx, p.txn)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("abort refused by %s", p.name)
	}
	return nil
}
