package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// HTTPFeed reads {"value": "<int>", "decimals": <n>} from a JSON endpoint.
type HTTPFeed struct {
	url    string
	client *http.Client
}

func NewHTTPFeed(url string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeed{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type httpPrice struct {
	Value    json.Number `json:"value"`
	Decimals *uint8      `json:"decimals"`
}

func (f *HTTPFeed) LatestPrice(ctx context.Context) (Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Price{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Price{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return Price{}, fmt.Errorf("price http status %d: %s", resp.StatusCode, msg)
		}
		return Price{}, fmt.Errorf("price http status %d", resp.StatusCode)
	}

	var payload httpPrice
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Price{}, fmt.Errorf("decode price: %w", err)
	}
	if payload.Decimals == nil {
		return Price{}, errors.New("price response missing decimals")
	}
	value, ok := new(big.Int).SetString(payload.Value.String(), 10)
	if !ok {
		return Price{}, fmt.Errorf("invalid price value %q", payload.Value)
	}
	return Price{Value: value, Decimals: *payload.Decimals}, nil
}
