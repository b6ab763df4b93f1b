// Package pricing looks up native token prices in USD.
package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Oracle returns the USD price of one unit of a token.
type Oracle interface {
	PriceOf(ctx context.Context, symbol string) (float64, error)
}

// CoinbaseOracle reads the public Coinbase exchange-rates endpoint.
type CoinbaseOracle struct {
	BaseURL string
	Client  *http.Client
}

func NewCoinbaseOracle(baseURL string, timeout time.Duration) *CoinbaseOracle {
	return &CoinbaseOracle{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (o *CoinbaseOracle) PriceOf(ctx context.Context, symbol string) (float64, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("parse rates url: %w", err)
	}
	q := u.Query()
	q.Set("currency", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s rate: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read %s rate: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s rate: status %d", symbol, resp.StatusCode)
	}

	rate := gjson.GetBytes(body, "data.rates.USD")
	if !rate.Exists() {
		return 0, fmt.Errorf("no USD rate for %s", symbol)
	}
	price, err := strconv.ParseFloat(rate.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s rate %q: %w", symbol, rate.String(), err)
	}
	return price, nil
}

// Static serves fixed prices. Used for local runs without network access.
type Static map[string]float64

func (s Static) PriceOf(_ context.Context, symbol string) (float64, error) {
	price, ok := s[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}
