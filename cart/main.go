// Package cart is the boundary to the storefront cart service. Checkout only needs a priced snapshot
// of a cart, split by seller.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

const defaultSellerID = "default"

var ErrCartNotFound = errors.New("cart not found")

type Snapshotter interface {
	Snapshot(ctx context.Context, cartRef string, userID int, amount int64) (*models.CartSnapshot, error)
}

type Client struct {
	BaseURL string
	Token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Snapshot reads GET {BaseURL}/carts/{cartRef}?user_id=...
func (c *Client) Snapshot(ctx context.Context, cartRef string, userID int, amount int64) (*models.CartSnapshot, error) {
	endpoint := fmt.Sprintf("%s/carts/%s?user_id=%d", c.BaseURL, url.PathEscape(cartRef), userID)

	responseBody, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var snapshot models.CartSnapshot
	if err := json.Unmarshal(responseBody, &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed decoding cart snapshot")
	}
	if snapshot.CartRef == "" {
		snapshot.CartRef = cartRef
	}
	return &snapshot, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cart service unreachable")
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrCartNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("cart service answered %d", resp.StatusCode)
	}
	return body, nil
}

// SingleLine is used when no cart service is configured: the whole amount goes to one seller.
type SingleLine struct{}

func (SingleLine) Snapshot(ctx context.Context, cartRef string, userID int, amount int64) (*models.CartSnapshot, error) {
	return &models.CartSnapshot{
		CartRef: cartRef,
		Lines:   []models.CartLine{{SellerID: defaultSellerID, Amount: amount}},
	}, nil
}
