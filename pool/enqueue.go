package pool

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/txdispatch/types"
)

// Enqueue is the producer-side entry point: it assigns the composed score
// (and an id when the producer supplied none), stamps the PROPOSED status
// and writes record plus index entry atomically. Returns the id under which
// the transaction can be tracked.
func (p *TxPool) Enqueue(ctx context.Context, tx *types.Tx, priority int64) (string, error) {
	if tx.ID == "" {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		if p.idLen > 0 && p.idLen < len(id) {
			id = id[:p.idLen]
		}
		tx.ID = id
	}
	if tx.Multiplier <= 0 && p.multiplier > 0 {
		tx.Multiplier = p.multiplier
	}
	tx.Status = types.TxStatusProposed
	tx.Score = ComposeScore(priority, time.Now())
	if err := p.Add(ctx, tx.ID, tx.Score, tx.Bytes()); err != nil {
		return "", err
	}
	return tx.ID, nil
}
