package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Event
	}{
		{
			name: "approved",
			body: `{"eventType":"payment.approved","data":{"orderId":"R1","paymentKey":"pk","totalAmount":10000}}`,
			want: PaymentApproved{Ref: "R1", GatewayToken: "pk", Amount: 10000},
		},
		{
			name: "canceled",
			body: `{"eventType":"payment.canceled","data":{"orderId":"R1","paymentKey":"pk","reason":"refund"}}`,
			want: PaymentCanceled{Ref: "R1", GatewayToken: "pk", Reason: "refund"},
		},
		{
			name: "failed",
			body: `{"eventType":"payment.failed","data":{"orderId":"R1","paymentKey":"pk","reason":"declined"}}`,
			want: PaymentFailed{Ref: "R1", GatewayToken: "pk", Reason: "declined"},
		},
		{
			name: "deposit callback",
			body: `{"eventType":"deposit.callback","data":{"orderId":"R1","status":"DONE"}}`,
			want: DepositCallback{Ref: "R1", Status: "DONE"},
		},
		{
			name: "provider deposit callback without data object",
			body: `{"eventType":"DEPOSIT_CALLBACK","orderId":"R1","status":"DONE","secret":"s"}`,
			want: DepositCallback{Ref: "R1", Status: "DONE"},
		},
		{
			name: "status changed to done",
			body: `{"eventType":"PAYMENT_STATUS_CHANGED","data":{"orderId":"R1","paymentKey":"pk","status":"DONE","totalAmount":500}}`,
			want: PaymentApproved{Ref: "R1", GatewayToken: "pk", Amount: 500},
		},
		{
			name: "status changed to expired",
			body: `{"eventType":"PAYMENT_STATUS_CHANGED","data":{"orderId":"R1","paymentKey":"pk","status":"EXPIRED"}}`,
			want: PaymentFailed{Ref: "R1", GatewayToken: "pk"},
		},
		{
			name: "status changed to partial cancel",
			body: `{"eventType":"PAYMENT_STATUS_CHANGED","data":{"orderId":"R1","status":"PARTIAL_CANCELED"}}`,
			want: PaymentCanceled{Ref: "R1"},
		},
		{
			name: "status changed to something else",
			body: `{"eventType":"PAYMENT_STATUS_CHANGED","data":{"orderId":"R1","status":"IN_PROGRESS"}}`,
			want: Unknown{Ref: "R1", EventType: "PAYMENT_STATUS_CHANGED", Status: "IN_PROGRESS"},
		},
		{
			name: "unknown type",
			body: `{"eventType":"payout.settled","data":{"orderId":"R1"}}`,
			want: Unknown{Ref: "R1", EventType: "payout.settled"},
		},
		{
			name: "known type without order ref",
			body: `{"eventType":"payment.approved","data":{"paymentKey":"pk"}}`,
			want: Unknown{EventType: "payment.approved"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := Classify([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	_, _, err := Classify([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = Classify([]byte(`{"eventType":"payment.approved","data":"oops"}`))
	assert.Error(t, err)
}
