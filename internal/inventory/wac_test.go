package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedAverageCost(t *testing.T) {
	cases := []struct {
		name         string
		existingQty  int64
		existingAvg  string
		incomingQty  int64
		incomingCost string
		want         string
	}{
		{"blends receipts", 10, "100", 5, "130", "110"},
		{"first receipt", 0, "0", 5, "130", "130"},
		{"oversold stock takes incoming cost", -4, "90", 10, "120", "120"},
		{"non positive total keeps existing", -10, "90", 4, "120", "90"},
		{"free goods dilute", 10, "10", 10, "0", "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverageCost(tc.existingQty, dec(tc.existingAvg), tc.incomingQty, dec(tc.incomingCost))
			assert.True(t, dec(tc.want).Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestWeightedAverageCostDoesNotRound(t *testing.T) {
	got := WeightedAverageCost(2, dec("1"), 1, dec("2"))
	assert.Equal(t, "1.3333", RoundCost(got).String())
	assert.True(t, got.GreaterThan(dec("1.3333")))
	assert.Equal(t, "1.33", RoundMoney(got).String())
}
