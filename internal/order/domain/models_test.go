package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var allowed = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusAwaitingPayment, OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:       {OrderStatusShipping, OrderStatusCancelled},
	OrderStatusShipping:        {OrderStatusDelivered},
}

func TestCanTransitionTable(t *testing.T) {
	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(Statuses).Draw(t, "from")
		to := rapid.SampledFrom(Statuses).Draw(t, "to")
		if from.Terminal() && CanTransition(from, to) {
			t.Fatalf("terminal %s allowed to reach %s", from, to)
		}
		if from == to && CanTransition(from, to) {
			t.Fatalf("self transition allowed for %s", from)
		}
		if CanTransition(from, to) && to == OrderStatusPending {
			t.Fatalf("%s re-entered pending", from)
		}
	})
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusShipping.Terminal())
	assert.True(t, OrderStatusShipping.Paid())
	assert.False(t, OrderStatusCancelled.Paid())
	assert.True(t, OrderStatusAwaitingPayment.AwaitingConfirmation())
	assert.False(t, OrderStatus("bogus").Valid())
}

func TestPaymentMethodInitialStatus(t *testing.T) {
	assert.Equal(t, OrderStatusPending, PaymentMethodCOD.InitialStatus())
	assert.Equal(t, OrderStatusAwaitingPayment, PaymentMethodBankTransfer.InitialStatus())
	assert.False(t, PaymentMethod("card").Valid())
}
