package chain

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stablecdp/observability"
)

// Adapter hands commitments to the settlement layer.
type Adapter interface {
	Submit(ctx context.Context, c Commitment) (common.Hash, error)
}

// LogAdapter records commitments in the structured log instead of submitting
// them. It is the default until a settlement client is configured.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter constructs a LogAdapter. A nil logger uses slog.Default.
func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger}
}

// Submit implements Adapter.
func (a *LogAdapter) Submit(ctx context.Context, c Commitment) (common.Hash, error) {
	digest, err := c.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	a.logger.InfoContext(ctx, "chain commitment",
		"kind", c.Kind.String(),
		"cdp_id", c.CDPID,
		"collateral", c.CollateralType,
		"status", c.Status,
		"digest", digest.Hex(),
	)
	observability.Events().RecordCommitment(c.Kind.String(), c.CollateralType)
	return digest, nil
}

// MemoryAdapter keeps submitted commitments in memory.
type MemoryAdapter struct {
	mu          sync.Mutex
	commitments []Commitment
}

// Submit implements Adapter.
func (a *MemoryAdapter) Submit(_ context.Context, c Commitment) (common.Hash, error) {
	digest, err := c.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	a.mu.Lock()
	a.commitments = append(a.commitments, c)
	a.mu.Unlock()
	return digest, nil
}

// Commitments returns a copy of everything submitted so far.
func (a *MemoryAdapter) Commitments() []Commitment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Commitment(nil), a.commitments...)
}
