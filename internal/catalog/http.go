package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// HTTPCatalog queries the catalog service: GET /units?ids=a,b returns a JSON
// array of units.
type HTTPCatalog struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPCatalog) Lookup(ctx context.Context, ids []domain.UnitID) (map[domain.UnitID]domain.SellableUnit, error) {
	if len(ids) == 0 {
		return map[domain.UnitID]domain.SellableUnit{}, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	q := url.Values{"ids": {strings.Join(raw, ",")}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/units?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var units []domain.SellableUnit
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
		return nil, fmt.Errorf("decoding catalog response: %w", err)
	}

	out := make(map[domain.UnitID]domain.SellableUnit, len(units))
	for _, u := range units {
		out[u.ID] = u
	}
	if err := missingError(ids, out); err != nil {
		return nil, err
	}
	return out, nil
}
