package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
)

// Client talks to the inventory service over HTTP. It is the ledger the
// orders service reserves against.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: client,
	}
}

func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	endpoint := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, id)
	}

	var p domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	return &p, nil
}

func (c *Client) Reserve(ctx context.Context, productID string, key domain.VariantKey, quantity int) error {
	return c.mutate(ctx, "reserve", productID, key, quantity)
}

func (c *Client) Release(ctx context.Context, productID string, key domain.VariantKey, quantity int) error {
	return c.mutate(ctx, "release", productID, key, quantity)
}

func (c *Client) mutate(ctx context.Context, action, productID string, key domain.VariantKey, quantity int) error {
	data, err := json.Marshal(stockRequest{Quantity: quantity, RAM: key.RAM, Storage: key.Storage})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/products/%s/%s", c.baseURL, url.PathEscape(productID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s stock for product %s: %w", action, productID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, productID)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// decodeError turns an inventory error response back into the domain error
// it was rendered from.
func decodeError(resp *http.Response, productID string) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.NewError(domain.ErrProductNotFound, productID, body.Error)
	case http.StatusConflict:
		shortfalls := body.Shortfalls
		if len(shortfalls) == 0 {
			shortfalls = []domain.StockShortfall{{ProductID: productID}}
		}
		return &domain.InsufficientStockError{Shortfalls: shortfalls}
	case http.StatusBadRequest:
		if body.Kind == "invalid_selection" {
			return domain.NewError(domain.ErrInvalidSelection, productID, body.Error)
		}
		return domain.NewError(domain.ErrInvalidRequest, productID, body.Error)
	}
	return fmt.Errorf("inventory service returned status %d for product %s", resp.StatusCode, productID)
}
