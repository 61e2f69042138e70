package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stablecdp/native/cdp"
)

var (
	// ErrStale is returned when no quote younger than the max age exists.
	ErrStale = errors.New("oracle quote stale")
	// ErrUnknownCollateral is returned for collateral types the feed does
	// not price.
	ErrUnknownCollateral = errors.New("collateral not priced by oracle")
	// ErrNoQuotes is returned when every source failed.
	ErrNoQuotes = errors.New("no usable oracle quotes")
)

// Quote is a single observation from a source.
type Quote struct {
	CollateralType string
	Price          decimal.Decimal
	ObservedAt     time.Time
	Source         string
}

// Source resolves the price of a collateral type in debt units.
type Source interface {
	Name() string
	Fetch(ctx context.Context, collateral string) (Quote, error)
}

// Update is emitted whenever a collateral is repriced.
type Update struct {
	CollateralType string
	Price          cdp.Price
	Median         decimal.Decimal
	Feeders        []string
}

// Listener is notified of fresh prices.
type Listener interface {
	OnPrice(ctx context.Context, update Update)
}

// ListenerFunc adapts ordinary functions to Listener.
type ListenerFunc func(ctx context.Context, update Update)

// OnPrice implements Listener.
func (f ListenerFunc) OnPrice(ctx context.Context, update Update) {
	if f != nil {
		f(ctx, update)
	}
}

// Feed aggregates sources into scaled engine prices. Each collateral is priced
// at the median of the fresh quotes and cached until it exceeds maxAge.
type Feed struct {
	logger   *slog.Logger
	sources  []Source
	decimals map[string]uint8
	maxAge   time.Duration
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	listener Listener

	mu    sync.RWMutex
	cache map[string]cdp.Price
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithListener registers a listener for fresh prices.
func WithListener(l Listener) Option {
	return func(f *Feed) {
		f.listener = l
	}
}

// WithInterval sets the refresh period used by Run.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// NewFeed constructs a feed. decimals maps each priced collateral type to the
// scale its engine price is expressed at.
func NewFeed(sources []Source, decimals map[string]uint8, maxAge, timeout time.Duration, opts ...Option) (*Feed, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(decimals) == 0 {
		return nil, fmt.Errorf("at least one collateral type required")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	feed := &Feed{
		logger:   slog.Default(),
		sources:  append([]Source{}, sources...),
		decimals: make(map[string]uint8, len(decimals)),
		maxAge:   maxAge,
		timeout:  timeout,
		interval: 15 * time.Second,
		now:      time.Now,
		cache:    make(map[string]cdp.Price),
	}
	for symbol, dec := range decimals {
		feed.decimals[normalise(symbol)] = dec
	}
	for _, opt := range opts {
		if opt != nil {
			opt(feed)
		}
	}
	return feed, nil
}

// Price returns the current price for collateral, refreshing it when the
// cached value has aged past maxAge.
func (f *Feed) Price(ctx context.Context, collateral string) (cdp.Price, error) {
	symbol := normalise(collateral)
	if _, ok := f.decimals[symbol]; !ok {
		return cdp.Price{}, fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	f.mu.RLock()
	price, ok := f.cache[symbol]
	f.mu.RUnlock()
	if ok && f.fresh(price) {
		return price, nil
	}
	return f.Refresh(ctx, symbol)
}

// Age reports how old the cached price of collateral is.
func (f *Feed) Age(collateral string) (time.Duration, bool) {
	f.mu.RLock()
	price, ok := f.cache[normalise(collateral)]
	f.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return f.now().Sub(price.AsOf.Time()), true
}

// Refresh polls every source for collateral and caches the median.
func (f *Feed) Refresh(ctx context.Context, collateral string) (cdp.Price, error) {
	symbol := normalise(collateral)
	dec, ok := f.decimals[symbol]
	if !ok {
		return cdp.Price{}, fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	now := f.now()
	quotes := make([]Quote, 0, len(f.sources))
	feeders := make([]string, 0, len(f.sources))
	stale := 0
	for _, src := range f.sources {
		if src == nil {
			continue
		}
		quote, err := f.fetch(ctx, src, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return cdp.Price{}, ctx.Err()
			}
			f.logger.Warn("oracle source failed", "source", src.Name(), "collateral", symbol, "error", err)
			continue
		}
		if !quote.Price.IsPositive() {
			f.logger.Warn("oracle source returned invalid price", "source", src.Name(), "collateral", symbol)
			continue
		}
		if quote.ObservedAt.After(now.Add(5 * time.Second)) {
			f.logger.Warn("oracle source produced future timestamp", "source", src.Name(), "collateral", symbol)
			continue
		}
		if quote.ObservedAt.Before(now.Add(-f.maxAge)) {
			stale++
			continue
		}
		quotes = append(quotes, quote)
		feeders = append(feeders, src.Name())
	}
	if len(quotes) == 0 {
		if stale > 0 {
			return cdp.Price{}, fmt.Errorf("%w: %s", ErrStale, symbol)
		}
		return cdp.Price{}, fmt.Errorf("%w: %s", ErrNoQuotes, symbol)
	}
	median := computeMedian(quotes)
	price, err := Scale(median, dec, oldest(quotes))
	if err != nil {
		return cdp.Price{}, fmt.Errorf("scale %s price: %w", symbol, err)
	}
	f.mu.Lock()
	f.cache[symbol] = price
	f.mu.Unlock()
	if f.listener != nil {
		f.listener.OnPrice(ctx, Update{CollateralType: symbol, Price: price, Median: median, Feeders: feeders})
	}
	return price, nil
}

// Tick refreshes every configured collateral type.
func (f *Feed) Tick(ctx context.Context) error {
	var errs []error
	for _, symbol := range f.Collateral() {
		if _, err := f.Refresh(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run blocks, refreshing prices until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Info("oracle feed started", "sources", len(f.sources), "collateral", strings.Join(f.Collateral(), ","))
	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Collateral lists the priced collateral types in sorted order.
func (f *Feed) Collateral() []string {
	out := make([]string, 0, len(f.decimals))
	for symbol := range f.decimals {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) fetch(ctx context.Context, src Source, symbol string) (Quote, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	quote, err := src.Fetch(fetchCtx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if quote.Source == "" {
		quote.Source = src.Name()
	}
	return quote, nil
}

func (f *Feed) fresh(price cdp.Price) bool {
	return f.now().Sub(price.AsOf.Time()) <= f.maxAge
}

// Scale converts a decimal price into an engine price with the given number
// of decimals. Digits beyond the scale are truncated.
func Scale(value decimal.Decimal, decimals uint8, observedAt time.Time) (cdp.Price, error) {
	if !value.IsPositive() {
		return cdp.Price{}, fmt.Errorf("price %s must be positive", value)
	}
	scaled := value.Shift(int32(decimals)).Truncate(0)
	if !scaled.IsPositive() {
		return cdp.Price{}, fmt.Errorf("price %s below resolution of %d decimals", value, decimals)
	}
	amount, err := cdp.AmountFromBig(scaled.BigInt())
	if err != nil {
		return cdp.Price{}, err
	}
	return cdp.Price{Value: amount, Decimals: decimals, AsOf: cdp.TimestampFromTime(observedAt)}, nil
}

func computeMedian(quotes []Quote) decimal.Decimal {
	sorted := make([]decimal.Decimal, 0, len(quotes))
	for _, q := range quotes {
		sorted = append(sorted, q.Price)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

func oldest(quotes []Quote) time.Time {
	out := quotes[0].ObservedAt
	for _, q := range quotes[1:] {
		if q.ObservedAt.Before(out) {
			out = q.ObservedAt
		}
	}
	return out
}

func normalise(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
