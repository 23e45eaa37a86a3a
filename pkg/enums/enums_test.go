package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCurrencyNormalizes(t *testing.T) {
	c, err := ParseCurrency(" USD ")
	require.NoError(t, err)
	require.Equal(t, Currency("usd"), c)
	require.True(t, c.Equal("Usd"))

	for _, bad := range []string{"", "us", "usdx", "u$d"} {
		_, err := ParseCurrency(bad)
		require.Error(t, err, bad)
	}
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus("paid")
	require.NoError(t, err)
	require.Equal(t, OrderStatusPaid, s)
	require.True(t, OrderStatusRefunded.IsValid())

	_, err = ParseOrderStatus("completed")
	require.Error(t, err)
}

func TestParsePaymentStatus(t *testing.T) {
	s, err := ParsePaymentStatus("succeeded")
	require.NoError(t, err)
	require.Equal(t, PaymentStatusSucceeded, s)

	_, err = ParsePaymentStatus("settled")
	require.Error(t, err)
}

func TestOutboxEnums(t *testing.T) {
	require.True(t, AggregateOrder.IsValid())
	require.True(t, EventOrderPaid.IsValid())

	_, err := ParseOutboxEventType("order_created")
	require.Error(t, err)
	_, err = ParseOutboxAggregateType("vendor_order")
	require.Error(t, err)
}
