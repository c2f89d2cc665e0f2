package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventNewOrder, "o-1", "u-1", nil)
	assert.NotEmpty(t, e.EventID)
	assert.NotNil(t, e.Payload)
	assert.False(t, e.CreatedAt.IsZero())
	assert.NotEqual(t, e.EventID, NewEvent(EventNewOrder, "o-1", "u-1", nil).EventID)
}

func TestAudience(t *testing.T) {
	cases := []struct {
		typ            string
		customerFacing bool
		mailable       bool
	}{
		{EventNewOrder, false, false},
		{EventAnalyticsUpdate, false, false},
		{EventPaymentSubmitted, false, false},
		{EventOrderStatusUpdate, true, false},
		{EventPaymentApproved, true, true},
		{EventPaymentRejected, true, true},
		{EventPaymentExpired, true, true},
	}
	for _, tc := range cases {
		e := Event{Type: tc.typ}
		assert.Equal(t, tc.customerFacing, e.CustomerFacing(), tc.typ)
		assert.Equal(t, tc.mailable, e.Mailable(), tc.typ)
	}
}
