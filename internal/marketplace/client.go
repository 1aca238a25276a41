// Package marketplace checks which applications a user has purchased in the
// e-commerce marketplace. The marketplace cannot list orders per customer,
// so entitlement walks all orders and matches the customer back to the user.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client is an adapter over the marketplace REST API (WooCommerce v3).
type Client struct {
	base           string
	consumerKey    string
	consumerSecret string
	http           *http.Client
	log            *zap.SugaredLogger
}

// NewClient builds a marketplace client from explicit credentials.
func NewClient(baseURL, consumerKey, consumerSecret string, log *zap.SugaredLogger) *Client {
	return &Client{
		base:           baseURL + "/wp-json/wc/v3",
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		http:           &http.Client{Timeout: 20 * time.Second},
		log:            log,
	}
}

type order struct {
	CustomerID int `json:"customer_id"`
	LineItems  []struct {
		ProductID int `json:"product_id"`
	} `json:"line_items"`
}

type customer struct {
	Username string `json:"username"`
}

type product struct {
	Name       string `json:"name"`
	Attributes []struct {
		Options []string `json:"options"`
	} `json:"attributes"`
}

// PurchasedBlueprints returns the blueprint names attached to the products
// the user ordered.
func (c *Client) PurchasedBlueprints(ctx context.Context, username string) ([]string, error) {
	var orders []order
	if err := c.get(ctx, "/orders", &orders); err != nil {
		return nil, fmt.Errorf("failed to list marketplace orders: %w", err)
	}

	// Customer lookups repeat across orders; cache per pass.
	customers := make(map[int]string)
	var blueprints []string

	for _, o := range orders {
		name, ok := customers[o.CustomerID]
		if !ok {
			var cust customer
			if err := c.get(ctx, "/customers/"+strconv.Itoa(o.CustomerID), &cust); err != nil {
				return nil, fmt.Errorf("failed to resolve customer %d: %w", o.CustomerID, err)
			}
			name = cust.Username
			customers[o.CustomerID] = name
		}
		if name != username {
			continue
		}

		for _, item := range o.LineItems {
			var p product
			if err := c.get(ctx, "/products/"+strconv.Itoa(item.ProductID), &p); err != nil {
				return nil, fmt.Errorf("failed to resolve product %d: %w", item.ProductID, err)
			}
			if len(p.Attributes) == 0 || len(p.Attributes[0].Options) == 0 {
				c.log.Warnw("purchased product has no blueprint attribute", "product", p.Name)
				continue
			}
			blueprints = append(blueprints, p.Attributes[0].Options[0])
		}
	}
	return blueprints, nil
}

// HasPurchased reports whether the user bought the given blueprint.
func (c *Client) HasPurchased(ctx context.Context, username, blueprint string) (bool, error) {
	purchased, err := c.PurchasedBlueprints(ctx, username)
	if err != nil {
		return false, err
	}
	for _, name := range purchased {
		if name == blueprint {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	query := url.Values{}
	query.Set("consumer_key", c.consumerKey)
	query.Set("consumer_secret", c.consumerSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("marketplace returned HTTP %d: %s", resp.StatusCode, data)
	}
	return json.Unmarshal(data, out)
}
