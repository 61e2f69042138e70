// Package service composes the CDP engine with persistence, pricing and the
// settlement adapter. It owns every side effect the engine itself refuses to
// perform: clocks, storage, logging, metrics and tracing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablecdp/native/cdp"
	"stablecdp/native/common"
	"stablecdp/observability/logging"
	"stablecdp/services/cdpd/chain"
	"stablecdp/services/cdpd/config"
	"stablecdp/services/cdpd/storage"
)

// ModuleIssuance is the pause module covering CDP creation and minting. It is
// paused while emergency shutdown is engaged.
const ModuleIssuance = "cdp.issuance"

// Store persists positions.
type Store interface {
	Insert(ctx context.Context, position cdp.CDP) error
	InsertBatch(ctx context.Context, positions []cdp.CDP) error
	Get(ctx context.Context, id cdp.ID) (cdp.CDP, error)
	ListByOwner(ctx context.Context, owner string) ([]cdp.CDP, error)
	CompareAndSwap(ctx context.Context, next cdp.CDP, expected cdp.Timestamp) error
	RecordLiquidation(ctx context.Context, outcome cdp.LiquidationOutcome, expected cdp.Timestamp) (storage.LiquidationEvent, error)
	Liquidations(ctx context.Context, id cdp.ID) ([]storage.LiquidationEvent, error)
}

// PriceFeed supplies collateral prices.
type PriceFeed interface {
	Price(ctx context.Context, collateral string) (cdp.Price, error)
}

// Metrics receives operation telemetry. *observability.CDPdMetrics
// satisfies it.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, kind string, err error)
	RecordLiquidation(collateral, outcome string, badDebt *big.Int)
	RecordQuoteAge(collateral string, age time.Duration)
	RecordConflict()
	SetShutdown(engaged bool)
}

// Config wires the service dependencies.
type Config struct {
	Engine   *cdp.Engine
	Registry config.Registry
	Store    Store
	Prices   PriceFeed
	Chain    chain.Adapter
	Pauses   *common.PauseSwitch
	Logger   *slog.Logger
	Metrics  Metrics
	Tracer   trace.Tracer
	Now      func() time.Time
	// MaxRetries bounds compare-and-swap attempts per mutation.
	MaxRetries int
}

// Service orchestrates CDP operations.
type Service struct {
	engine     *cdp.Engine
	registry   config.Registry
	store      Store
	prices     PriceFeed
	chain      chain.Adapter
	pauses     *common.PauseSwitch
	logger     *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
	now        func() time.Time
	maxRetries int
}

// New validates the configuration and constructs a service.
func New(cfg Config) (*Service, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price feed required")
	}
	if len(cfg.Registry.Collateral) == 0 {
		return nil, fmt.Errorf("collateral registry required")
	}
	svc := &Service{
		engine:     cfg.Engine,
		registry:   cfg.Registry,
		store:      cfg.Store,
		prices:     cfg.Prices,
		chain:      cfg.Chain,
		pauses:     cfg.Pauses,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
		maxRetries: cfg.MaxRetries,
	}
	if svc.chain == nil {
		svc.chain = chain.NewLogAdapter(cfg.Logger)
	}
	if svc.pauses == nil {
		svc.pauses = common.NewPauseSwitch()
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("cdpd/service")
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.maxRetries <= 0 {
		svc.maxRetries = 3
	}
	return svc, nil
}

// ShutdownStatus describes the emergency shutdown switch.
type ShutdownStatus struct {
	Engaged bool      `json:"engaged"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

// SetShutdown engages or releases emergency shutdown. While engaged no CDP
// can be created and no debt minted; repayment, deposits and liquidations
// continue.
func (s *Service) SetShutdown(engaged bool, reason string) ShutdownStatus {
	if engaged {
		s.pauses.Pause(ModuleIssuance, reason, s.now())
		s.logger.Warn("emergency shutdown engaged", "reason", reason)
	} else {
		s.pauses.Resume(ModuleIssuance)
		s.logger.Info("emergency shutdown released")
	}
	s.metrics.SetShutdown(engaged)
	return s.Shutdown()
}

// Shutdown reports the emergency shutdown state.
func (s *Service) Shutdown() ShutdownStatus {
	state, ok := s.pauses.State(ModuleIssuance)
	if !ok {
		return ShutdownStatus{}
	}
	return ShutdownStatus{Engaged: true, Reason: state.Reason, Since: state.Since}
}

// collateral resolves the registry entry of a collateral type.
func (s *Service) collateral(symbol string) (config.Collateral, error) {
	entry, ok := s.registry.Lookup(symbol)
	if !ok {
		return config.Collateral{}, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: fmt.Sprintf("unsupported collateral type %q", symbol)}
	}
	return entry, nil
}

// price fetches the current price and records its age.
func (s *Service) price(ctx context.Context, symbol string) (cdp.Price, error) {
	price, err := s.prices.Price(ctx, config.NormaliseSymbol(symbol))
	if err != nil {
		return cdp.Price{}, fmt.Errorf("price %s: %w", symbol, err)
	}
	s.metrics.RecordQuoteAge(symbol, s.now().Sub(price.AsOf.Time()))
	return price, nil
}

// timestamp returns the current engine time, strictly after floor when floor
// is set. LastUpdated doubles as the compare-and-swap version, so two writes
// within one millisecond must still produce distinct versions.
func (s *Service) timestamp(floor cdp.Timestamp) cdp.Timestamp {
	now := cdp.TimestampFromTime(s.now())
	if floor > 0 && now <= floor {
		return floor + 1
	}
	return now
}

// load fetches a position and recomputes its derived fields.
func (s *Service) load(ctx context.Context, id cdp.ID) (cdp.CDP, error) {
	position, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return cdp.CDP{}, &cdp.Error{Kind: cdp.KindCDPNotFound, Msg: fmt.Sprintf("cdp %s not found", id)}
	}
	if err != nil {
		return cdp.CDP{}, err
	}
	return s.engine.Restore(position), nil
}

// commit hands a commitment of kind for position id to the chain adapter.
// Commitments follow the database write, so a failure here is logged and not
// returned. The caller's id and kind are logged since a failed build leaves
// the commitment empty.
func (s *Service) commit(ctx context.Context, id cdp.ID, kind chain.Kind, build func() (chain.Commitment, error)) {
	commitment, err := build()
	if err == nil {
		_, err = s.chain.Submit(ctx, commitment)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "chain commitment failed",
			logging.MaskField("cdp_id", string(id)),
			"kind", kind.String(),
			"error", err,
		)
	}
}

// span starts a traced operation. The returned finish function records the
// outcome on the span and in metrics.
func (s *Service) span(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "cdp."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		defer span.End()
		kind := cdp.KindOf(err)
		s.metrics.ObserveOperation(operation, s.now().Sub(start), string(kind), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if kind != "" {
				span.SetAttributes(attribute.String("cdp.error_kind", string(kind)))
			}
			return
		}
		span.SetStatus(codes.Ok, operation)
	}
}

// withRetry runs attempt until it succeeds, fails with something other than
// a storage conflict, or the retry budget is spent.
func (s *Service) withRetry(ctx context.Context, id cdp.ID, attempt func(ctx context.Context) error) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = attempt(ctx)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		s.metrics.RecordConflict()
		s.logger.DebugContext(ctx, "cdp write conflict", "cdp_id", string(id), "attempt", i+1)
	}
	return &cdp.Error{Kind: cdp.KindConflict, Msg: fmt.Sprintf("cdp %s: %d concurrent update attempts lost: %v", id, s.maxRetries, err)}
}

func collateralAttr(symbol string) attribute.KeyValue {
	return attribute.String("cdp.collateral", strings.ToUpper(symbol))
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, string, error) {}
func (noopMetrics) RecordLiquidation(string, string, *big.Int)            {}
func (noopMetrics) RecordQuoteAge(string, time.Duration)                  {}
func (noopMetrics) RecordConflict()                                       {}
func (noopMetrics) SetShutdown(bool)                                      {}
