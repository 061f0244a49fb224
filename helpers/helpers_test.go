package helpers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thedevsaddam/govalidator"
	"gopkg.in/gomail.v2"
)

type captureSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m...)
	return nil
}

func TestOperatorAlerterMails(t *testing.T) {
	sender := &captureSender{}
	alerter := &OperatorAlerter{
		SMTP:      sender,
		EmailFrom: "payments@example.com",
		EmailTo:   []string{"ops@example.com"},
		Prefix:    "[payments] ",
	}

	require.NoError(t, alerter.Alert("payment amount mismatch", map[string]interface{}{
		"order_ref":      "R1",
		"gateway_amount": 10000,
	}))
	alerter.Flush()

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"[payments] payment amount mismatch"}, msg.GetHeader("Subject"))

	var body bytes.Buffer
	_, err := msg.WriteTo(&body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "order_ref")
	assert.Contains(t, body.String(), "R1")
}

func TestOperatorAlerterWithoutSMTPOnlyLogs(t *testing.T) {
	alerter := &OperatorAlerter{}
	assert.NoError(t, alerter.Alert("webhook signature rejected", nil))
	alerter.Flush()
}

func TestIntegerAmount(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{in: 100, want: 100, ok: true},
		{in: int64(2500), want: 2500, ok: true},
		{in: float64(300), want: 300, ok: true},
		{in: 10.5, ok: false},
		{in: "4200", want: 4200, ok: true},
		{in: "12.5", ok: false},
		{in: true, ok: false},
	}
	for _, tt := range tests {
		got, ok := integerAmount(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestCustomRules(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		failed []string
	}{
		{name: "valid", query: "amount=10000&method=card"},
		{name: "below minimum", query: "amount=99&method=card", failed: []string{"amount"}},
		{name: "explicit bound", query: "amount=500&method=card&fee=10", failed: []string{"fee"}},
		{name: "fractional", query: "amount=100.5&method=virtual_account", failed: []string{"amount"}},
		{name: "unknown method", query: "amount=10000&method=cash", failed: []string{"method"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/payment?"+tt.query, nil)
			errs := govalidator.New(govalidator.Options{
				Request: r,
				Rules: govalidator.MapData{
					"amount": []string{"min_amount"},
					"method": []string{"payment_method"},
					"fee":    []string{"min_amount:50"},
				},
			}).Validate()

			var failed []string
			for field := range errs {
				failed = append(failed, field)
			}
			assert.ElementsMatch(t, tt.failed, failed)
		})
	}
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole([]int{1, 4, 5}, 4))
	assert.False(t, HasRole([]int{1, 4, 5}, 2))
}

func TestParserTokenUnverified(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"u": map[string]interface{}{"i": 7, "r": []int{4}},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, ok := ParserTokenUnverified(token)
	require.True(t, ok)
	user, ok := claims["u"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), user["i"])

	_, ok = ParserTokenUnverified("not-a-token")
	assert.False(t, ok)
}
