package application

import (
	"fmt"
	"math/big"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"
)

const (
	week  = 7 * 24 * time.Hour
	month = 30 * 24 * time.Hour
)

// Summarize recomputes the aggregate for one slug from raw rows. Windows
// are half-open [now-w, now) over the event timestamp; sums use big.Int
// so amounts never lose precision. Recomputing per call is O(n) by
// design; the store interface allows swapping in maintained counters
// without touching readers.
func Summarize(payments []domain.Payment, now time.Time) (domain.SlugSummary, error) {
	summary := domain.SlugSummary{
		TotalAmount: new(big.Int),
		Last7d:      domain.WindowTotals{Amount: new(big.Int)},
		Last30d:     domain.WindowTotals{Amount: new(big.Int)},
	}

	nowSec := now.Unix()
	weekCutoff := now.Add(-week).Unix()
	monthCutoff := now.Add(-month).Unix()

	for _, payment := range payments {
		amount, err := ParseAmount(payment.Amount)
		if err != nil {
			return domain.SlugSummary{}, fmt.Errorf("payment %s: %w", payment.TxHash, err)
		}

		summary.TotalCount++
		summary.TotalAmount.Add(summary.TotalAmount, amount)

		occurred := payment.OccurredAt
		if occurred > uint64(1<<62) || int64(occurred) >= nowSec {
			continue
		}
		at := int64(occurred)
		if at >= weekCutoff {
			summary.Last7d.Count++
			summary.Last7d.Amount.Add(summary.Last7d.Amount, amount)
		}
		if at >= monthCutoff {
			summary.Last30d.Count++
			summary.Last30d.Amount.Add(summary.Last30d.Amount, amount)
		}
	}

	return summary, nil
}

// ParseAmount parses a stored amount into an exact integer. Amounts are
// base-10, non-negative, arbitrary width.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return value, nil
}
