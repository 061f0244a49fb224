package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, SecretKey: "test_sk", Timeout: timeout})
	require.NoError(t, err)
	return c
}

func TestConfirmSendsCredentialsAndParsesResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments/confirm", r.URL.Path)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test_sk:")), r.Header.Get("Authorization"))

		var body confirmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, confirmRequest{PaymentKey: "pk_1", OrderID: "R1", Amount: 10000}, body)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"paymentKey":"pk_1","orderId":"R1","status":"DONE","totalAmount":10000,"method":"card","approvedAt":"2026-01-02T03:04:05+09:00"}`))
	}, time.Second)

	conf, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, conf.Status)
	assert.Equal(t, int64(10000), conf.TotalAmount)
	require.NotNil(t, conf.ApprovedAt)
}

func TestConfirmReturnsProviderErrorVerbatim(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"REJECT_CARD_COMPANY","message":"card declined"}`))
	}, time.Second)

	conf, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
	assert.Nil(t, conf)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "REJECT_CARD_COMPANY", gwErr.Code)
	assert.Equal(t, "card declined", gwErr.Message)
	assert.True(t, gwErr.Definitive())
}

func TestServerErrorIsNotDefinitive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"FAILED_INTERNAL_SYSTEM_PROCESSING","message":"try again"}`))
	}, time.Second)

	_, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.False(t, gwErr.Definitive())
}

func TestServerErrorWithoutBodyIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	_, err := c.Lookup(context.Background(), "R1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestStatusWithoutProviderBodyIsNeverARejection(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		timeout bool
	}{
		{status: http.StatusBadRequest, body: ``},
		{status: http.StatusNotFound, body: `<html>not found</html>`},
		{status: http.StatusRequestTimeout, body: ``, timeout: true},
		{status: http.StatusTooManyRequests, body: `{"message":"slow down"}`},
		{status: http.StatusGatewayTimeout, body: ``, timeout: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, time.Second)

			_, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
			require.Error(t, err)

			var gwErr *Error
			assert.False(t, errors.As(err, &gwErr), "got %v", err)
			if tt.timeout {
				assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
			} else {
				assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
			}
		})
	}
}

func TestThrottledProviderErrorIsNotDefinitive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"TOO_MANY_REQUESTS","message":"slow down"}`))
	}, time.Second)

	_, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "TOO_MANY_REQUESTS", gwErr.Code)
	assert.False(t, gwErr.Definitive())
}

func TestConfirmTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	_, err := c.Confirm(context.Background(), "R1", "pk_1", 10000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestCancelSendsIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pk_1/cancel", r.URL.Path)
		assert.Equal(t, "pk_1:cancel", r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{"paymentKey":"pk_1","orderId":"R1","status":"CANCELED","totalAmount":10000,
			"cancels":[{"cancelAmount":10000,"cancelReason":"changed mind","canceledAt":"2026-01-02T03:04:05Z"}]}`))
	}, time.Second)

	cancellation, err := c.Cancel(context.Background(), "pk_1", "changed mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, cancellation.Status)
	assert.Equal(t, "changed mind", cancellation.Reason)
	assert.Equal(t, 2026, cancellation.CanceledAt.Year())
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "http://gw"})
	assert.Error(t, err)
	_, err = New(Config{SecretKey: "sk"})
	assert.Error(t, err)
}
