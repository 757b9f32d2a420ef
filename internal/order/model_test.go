package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardOnly(t *testing.T) {
	all := []Status{StatusPending, StatusPaymentPending, StatusPaid, StatusFailed}
	rank := map[Status]int{StatusPending: 0, StatusPaymentPending: 1, StatusPaid: 2, StatusFailed: 2}

	for _, from := range all {
		for _, to := range all {
			if CanTransition(from, to) {
				assert.Greater(t, rank[to], rank[from], "%s -> %s must move forward", from, to)
			}
		}
	}

	assert.True(t, CanTransition(StatusPending, StatusPaymentPending))
	assert.True(t, CanTransition(StatusPaymentPending, StatusPaid))
	assert.True(t, CanTransition(StatusPaymentPending, StatusFailed))
	assert.False(t, CanTransition(StatusPaid, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusPaid))
	assert.False(t, CanTransition(StatusPaymentPending, StatusPending))
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []string{"pending", "payment_pending"}, predecessors(StatusPaid))
	assert.Equal(t, []string{"pending"}, predecessors(StatusPaymentPending))
	assert.Empty(t, predecessors(StatusPending))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("payment_pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, s)

	_, err = ParseStatus("Vipps_Pending")
	require.Error(t, err)

	s, err = ParseInitialStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s)

	_, err = ParseInitialStatus("paid")
	require.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPaid.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPaymentPending.IsTerminal())
	assert.True(t, StatusPending.IsPayable())
	assert.True(t, StatusPaymentPending.IsPayable())
	assert.False(t, StatusPaid.IsPayable())
}

func TestItemsRoundTrip(t *testing.T) {
	items := []Item{
		{Name: "Avocado Toast", Price: decimal.RequireFromString("6.50")},
		{Name: "Almond Croissant", Price: decimal.RequireFromString("4.15")},
	}

	raw, err := encodeItems(items)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Avocado Toast","price":6.5},{"name":"Almond Croissant","price":4.15}]`, string(raw))

	decoded, err := decodeItems(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].Price.Equal(items[0].Price))
	assert.Equal(t, "Almond Croissant", decoded[1].Name)

	_, err = decodeItems([]byte(`[{"name":"x","price":"abc"}]`))
	require.Error(t, err)
}

func TestOrder_ItemsTotal(t *testing.T) {
	o := Order{Items: []Item{
		{Name: "Americano", Price: decimal.RequireFromString("3.45")},
		{Name: "Double Chocolate Muffin", Price: decimal.RequireFromString("3.25")},
	}}
	assert.Equal(t, "6.7", o.ItemsTotal().String())
}
