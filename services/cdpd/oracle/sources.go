package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Registry constructs sources from configuration.
type Registry struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(name, typ, endpoint, apiKey string, prices map[string]string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "static":
		return NewStaticSource(label(name, "static"), prices, r.clock())
	case "http":
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("http source %q requires an endpoint", name)
		}
		return &HTTPSource{name: label(name, "http"), endpoint: endpoint, apiKey: apiKey, client: r.client()}, nil
	default:
		return nil, fmt.Errorf("unknown oracle type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (r *Registry) clock() func() time.Time {
	if r.Now != nil {
		return r.Now
	}
	return time.Now
}

// StaticSource serves operator supplied prices. Every fetch is stamped with
// the current time, so the quotes never go stale on their own.
type StaticSource struct {
	name string
	now  func() time.Time

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource parses decimal price strings keyed by collateral type.
func NewStaticSource(name string, prices map[string]string, now func() time.Time) (*StaticSource, error) {
	if now == nil {
		now = time.Now
	}
	src := &StaticSource{name: name, now: now, prices: make(map[string]decimal.Decimal, len(prices))}
	for symbol, raw := range prices {
		if err := src.Set(symbol, raw); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Set replaces the price of a collateral type.
func (s *StaticSource) Set(collateral, raw string) error {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("static source %s: price for %s: %w", s.name, collateral, err)
	}
	if !value.IsPositive() {
		return fmt.Errorf("static source %s: price for %s must be positive", s.name, collateral)
	}
	s.mu.Lock()
	s.prices[normalise(collateral)] = value
	s.mu.Unlock()
	return nil
}

// Fetch implements Source.
func (s *StaticSource) Fetch(ctx context.Context, collateral string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	symbol := normalise(collateral)
	s.mu.RLock()
	value, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("static source %s has no price for %s", s.name, symbol)
	}
	return Quote{CollateralType: symbol, Price: value, ObservedAt: s.now(), Source: s.name}, nil
}

// HTTPSource polls a JSON price endpoint:
//
//	GET {endpoint}?collateral=ETH -> {"price":"2000.15","timestamp":"2024-01-01T00:00:00Z"}
type HTTPSource struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

type httpQuote struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, collateral string) (Quote, error) {
	symbol := normalise(collateral)
	target, err := url.Parse(s.endpoint)
	if err != nil {
		return Quote{}, fmt.Errorf("parse endpoint: %w", err)
	}
	query := target.Query()
	query.Set("collateral", symbol)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("fetch %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload httpQuote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("decode %s quote: %w", symbol, err)
	}
	if payload.Timestamp.IsZero() {
		return Quote{}, fmt.Errorf("%s quote missing timestamp", symbol)
	}
	return Quote{CollateralType: symbol, Price: payload.Price, ObservedAt: payload.Timestamp, Source: s.name}, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
