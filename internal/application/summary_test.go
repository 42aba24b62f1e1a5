package application

import (
	"math/big"
	"testing"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentAt(txHash, amount string, occurredAt time.Time) domain.Payment {
	return domain.Payment{
		TxHash:     txHash,
		Amount:     amount,
		Slug:       "coffee-fund",
		OccurredAt: uint64(occurredAt.Unix()),
	}
}

func TestSummarizeWindows(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	payments := []domain.Payment{
		paymentAt("0x1", "100", now.Add(-time.Hour)),         // inside both windows
		paymentAt("0x2", "200", now.Add(-10*24*time.Hour)),   // 30d only
		paymentAt("0x3", "400", now.Add(-40*24*time.Hour)),   // total only
		paymentAt("0x4", "800", now.Add(-7*24*time.Hour)),    // exactly on the 7d cutoff: included
		paymentAt("0x5", "1600", now),                        // at now: excluded from windows
		paymentAt("0x6", "3200", now.Add(24*time.Hour)),      // future: excluded from windows
	}

	summary, err := Summarize(payments, now)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.TotalCount)
	assert.Equal(t, "6300", summary.TotalAmount.String())

	assert.Equal(t, 2, summary.Last7d.Count)
	assert.Equal(t, "900", summary.Last7d.Amount.String())

	assert.Equal(t, 3, summary.Last30d.Count)
	assert.Equal(t, "1100", summary.Last30d.Amount.String())
}

func TestSummarizeEmpty(t *testing.T) {
	summary, err := Summarize(nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalCount)
	assert.Equal(t, "0", summary.TotalAmount.String())
	assert.Equal(t, "0", summary.Last7d.Amount.String())
	assert.Equal(t, "0", summary.Last30d.Amount.String())
}

func TestSummarizeExactAmounts(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// 2^200-1 would lose precision in any float path.
	huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 200), big.NewInt(1))
	payments := []domain.Payment{
		paymentAt("0x1", huge.String(), now.Add(-time.Hour)),
		paymentAt("0x2", "1", now.Add(-time.Hour)),
	}

	summary, err := Summarize(payments, now)
	require.NoError(t, err)

	want := new(big.Int).Add(huge, big.NewInt(1))
	assert.Equal(t, want.String(), summary.TotalAmount.String())
	assert.Equal(t, want.String(), summary.Last7d.Amount.String())
}

func TestSummarizeInvalidAmount(t *testing.T) {
	payments := []domain.Payment{
		{TxHash: "0x1", Amount: "12.5", OccurredAt: 1700000000},
	}
	_, err := Summarize(payments, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	value, err := ParseAmount("0")
	require.NoError(t, err)
	assert.Equal(t, "0", value.String())

	for _, raw := range []string{"", "-1", "1.5", "0x10", "abc"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %q", raw)
	}
}
