package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	gwContentType = `application/json`

	pathConfirm        = "/v1/payments/confirm"
	pathCancel         = "/v1/payments/%s/cancel"
	pathLookupOrderRef = "/v1/payments/orders/%s"
)

var (
	// ErrTimeout means the gateway did not answer in time; the outcome is unknown.
	ErrTimeout = errors.New("gateway: no response within timeout")
	// ErrUnavailable means the request failed in transport; the outcome is unknown.
	ErrUnavailable = errors.New("gateway: unavailable")
)

// Error is a rejection reported by the provider. Code and Message are kept verbatim.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// Definitive is false for 5xx, 408 and 429 rejections, where the request may not have been processed
// and the provider may still complete the payment.
func (e *Error) Definitive() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode < http.StatusInternalServerError
}

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	authHeader string
	http       *http.Client
}

func New(conf Config) (*Client, error) {
	if conf.BaseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if conf.SecretKey == "" {
		return nil, errors.New("gateway: secret key is required")
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    conf.BaseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(conf.SecretKey+":")),
		http:       &http.Client{Timeout: conf.Timeout},
	}, nil
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type cancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

// Confirm asks the gateway to approve the payment identified by gatewayToken.
func (c *Client) Confirm(ctx context.Context, orderRef, gatewayToken string, amount int64) (*Confirmation, error) {
	requestBody := confirmRequest{
		PaymentKey: gatewayToken,
		OrderID:    orderRef,
		Amount:     amount,
	}

	var response Confirmation
	if err := c.do(ctx, http.MethodPost, pathConfirm, "", &requestBody, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Cancel asks the gateway to cancel the whole amount of an approved payment.
func (c *Client) Cancel(ctx context.Context, gatewayToken, reason string) (*Cancellation, error) {
	requestBody := cancelRequest{CancelReason: reason}

	var response Confirmation
	path := fmt.Sprintf(pathCancel, url.PathEscape(gatewayToken))
	if err := c.do(ctx, http.MethodPost, path, gatewayToken+":cancel", &requestBody, &response); err != nil {
		return nil, err
	}
	return response.cancellation(), nil
}

// Lookup reads the gateway's record for orderRef without changing it.
func (c *Client) Lookup(ctx context.Context, orderRef string) (*Confirmation, error) {
	var response Confirmation
	path := fmt.Sprintf(pathLookupOrderRef, url.PathEscape(orderRef))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "gateway: failed marshaling request")
		}
		reader = bytes.NewBuffer(requestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "gateway: failed building request")
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", gwContentType)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	response, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return classifyTransportErr(err)
	}

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		gwErr := &Error{StatusCode: response.StatusCode}
		if err := json.Unmarshal(responseBody, gwErr); err != nil || gwErr.Code == "" {
			// No provider payload: the request may never have reached the payment.
			if response.StatusCode == http.StatusRequestTimeout || response.StatusCode == http.StatusGatewayTimeout {
				return errors.Wrapf(ErrTimeout, "bad response %d", response.StatusCode)
			}
			return errors.Wrapf(ErrUnavailable, "bad response %d", response.StatusCode)
		}
		return gwErr
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return errors.Wrap(err, "gateway: failed unmarshaling response")
	}
	return nil
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return errors.Wrap(ErrUnavailable, err.Error())
}
