package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/toktrack/pkg/models"
)

// maxTableSize bounds the downloaded price table.
const maxTableSize = 64 << 20

// Fetcher loads a fresh rate table keyed by normalized model name.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]models.PricingEntry, error)
}

// HTTPFetcher downloads the LiteLLM model price table.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for url with a per-request timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and parses the table.
func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]models.PricingEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pricing request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pricing: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTableSize))
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses a LiteLLM-format price table. Keys are normalized;
// when several keys fold to one name, a key without a provider prefix
// wins, then the lexically smallest. Entries with no per-token rate are dropped.
func ParseTable(data []byte) (map[string]models.PricingEntry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse pricing: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("parse pricing: top level is not an object")
	}

	var keys []string
	values := make(map[string]gjson.Result)
	root.ForEach(func(k, v gjson.Result) bool {
		keys = append(keys, k.String())
		values[k.String()] = v
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := strings.Contains(keys[i], "/"), strings.Contains(keys[j], "/")
		if pi != pj {
			return !pi
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]models.PricingEntry)
	for _, key := range keys {
		if key == "sample_spec" {
			continue
		}
		v := values[key]
		entry := models.PricingEntry{
			Input:         perToken(v.Get("input_cost_per_token")),
			Output:        perToken(v.Get("output_cost_per_token")),
			CacheCreation: perToken(v.Get("cache_creation_input_token_cost")),
			CacheRead:     perToken(v.Get("cache_read_input_token_cost")),
		}
		if entry.Input.IsZero() && entry.Output.IsZero() {
			continue
		}
		name := models.NormalizeModel(key)
		if _, taken := out[name]; taken {
			continue
		}
		entry.Model = name
		out[name] = entry
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse pricing: no priced models")
	}
	return out, nil
}

func perToken(v gjson.Result) decimal.Decimal {
	if v.Type != gjson.Number {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.Raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
