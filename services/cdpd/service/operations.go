package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"stablecdp/native/cdp"
	"stablecdp/native/common"
	"stablecdp/native/result"
	"stablecdp/observability/logging"
	"stablecdp/services/cdpd/chain"
	"stablecdp/services/cdpd/config"
	"stablecdp/services/cdpd/storage"
)

// CreateRequest opens a position.
type CreateRequest struct {
	Owner            string     `json:"owner"`
	CollateralType   string     `json:"collateral_type"`
	CollateralAmount cdp.Amount `json:"collateral_amount"`
	DebtAmount       cdp.Amount `json:"debt_amount"`
	Nonce            uint64     `json:"nonce,omitempty"`
}

// MutateRequest applies one operation to an existing position. Price and
// time are supplied by the service.
type MutateRequest struct {
	ID        cdp.ID
	Caller    string
	Operation cdp.Operation
	Amount    cdp.Amount

	EnforceHealthFactor            bool
	MinHealthFactorAfter           float64
	EnforceCollateralizationRatio  bool
	MinCollateralizationRatioAfter uint64
}

// Create opens a single position at the current oracle price.
func (s *Service) Create(ctx context.Context, req CreateRequest) (cdp.CDP, error) {
	ctx, finish := s.span(ctx, "create", collateralAttr(req.CollateralType))
	position, err := s.create(ctx, req)
	finish(err)
	return position, err
}

func (s *Service) create(ctx context.Context, req CreateRequest) (cdp.CDP, error) {
	symbol := config.NormaliseSymbol(req.CollateralType)
	creation, err := s.creationContext(ctx, symbol)
	if err != nil {
		return cdp.CDP{}, err
	}
	position, err := result.ToError(s.engine.Create(req.params(symbol), creation))
	if err != nil {
		return cdp.CDP{}, err
	}
	if err := s.store.Insert(ctx, position); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return cdp.CDP{}, &cdp.Error{Kind: cdp.KindDuplicateID, Msg: fmt.Sprintf("cdp %s already exists", position.ID)}
		}
		return cdp.CDP{}, fmt.Errorf("persist cdp: %w", err)
	}
	s.logger.InfoContext(ctx, "cdp opened",
		"cdp_id", string(position.ID),
		logging.Pseudonymize("owner", position.Owner),
		"collateral", position.CollateralType,
		"status", string(position.Status),
		"risk_level", string(position.RiskLevel),
	)
	s.commit(ctx, position.ID, chain.KindOpen, func() (chain.Commitment, error) { return chain.FromCDP(chain.KindOpen, position) })
	return position, nil
}

// CreateBatch opens every request or none. All requests must share one
// collateral type so a single price governs the batch.
func (s *Service) CreateBatch(ctx context.Context, reqs []CreateRequest) ([]cdp.CDP, error) {
	var symbol string
	if len(reqs) > 0 {
		symbol = config.NormaliseSymbol(reqs[0].CollateralType)
	}
	ctx, finish := s.span(ctx, "create_batch", collateralAttr(symbol), attribute.Int("cdp.batch_size", len(reqs)))
	positions, err := s.createBatch(ctx, symbol, reqs)
	finish(err)
	return positions, err
}

func (s *Service) createBatch(ctx context.Context, symbol string, reqs []CreateRequest) ([]cdp.CDP, error) {
	if len(reqs) == 0 {
		return nil, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "batch is empty"}
	}
	params := make([]cdp.CreationParams, len(reqs))
	for i, req := range reqs {
		if config.NormaliseSymbol(req.CollateralType) != symbol {
			return nil, &cdp.BatchError{Index: i, Err: &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "batch mixes collateral types"}}
		}
		params[i] = req.params(symbol)
	}
	creation, err := s.creationContext(ctx, symbol)
	if err != nil {
		return nil, err
	}
	positions, err := result.ToError(s.engine.CreateBatch(params, creation))
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertBatch(ctx, positions); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return nil, &cdp.Error{Kind: cdp.KindDuplicateID, Msg: "batch repeats a stored cdp id"}
		}
		return nil, fmt.Errorf("persist batch: %w", err)
	}
	s.logger.InfoContext(ctx, "cdp batch opened", "collateral", symbol, "count", len(positions))
	for _, position := range positions {
		s.commit(ctx, position.ID, chain.KindOpen, func() (chain.Commitment, error) { return chain.FromCDP(chain.KindOpen, position) })
	}
	return positions, nil
}

func (r CreateRequest) params(symbol string) cdp.CreationParams {
	return cdp.CreationParams{
		Owner:            r.Owner,
		CollateralType:   symbol,
		CollateralAmount: r.CollateralAmount,
		DebtAmount:       r.DebtAmount,
		Nonce:            r.Nonce,
	}
}

func (s *Service) creationContext(ctx context.Context, symbol string) (cdp.CreationContext, error) {
	entry, err := s.collateral(symbol)
	if err != nil {
		return cdp.CreationContext{}, err
	}
	price, err := s.price(ctx, symbol)
	if err != nil {
		return cdp.CreationContext{}, err
	}
	return cdp.CreationContext{
		CollateralPrice:   price,
		CurrentTime:       s.timestamp(0),
		Config:            entry.Limits,
		EmergencyShutdown: s.pauses.IsPaused(ModuleIssuance),
	}, nil
}

// Get returns a stored position with its derived fields at the stored price.
func (s *Service) Get(ctx context.Context, id cdp.ID) (cdp.CDP, error) {
	return s.load(ctx, id)
}

// List returns every position of owner, oldest first.
func (s *Service) List(ctx context.Context, owner string) ([]cdp.CDP, error) {
	positions, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		positions[i] = s.engine.Restore(positions[i])
	}
	return positions, nil
}

// Mutate applies a deposit, withdraw, mint, burn or close at the current
// price. Concurrent writers are resolved by retrying on a fresh read.
func (s *Service) Mutate(ctx context.Context, req MutateRequest) (cdp.CDP, error) {
	ctx, finish := s.span(ctx, string(req.Operation), attribute.String("cdp.id", string(req.ID)))
	position, err := s.mutate(ctx, req)
	finish(err)
	return position, err
}

func (s *Service) mutate(ctx context.Context, req MutateRequest) (cdp.CDP, error) {
	if _, err := cdp.ParseOperation(string(req.Operation)); err != nil {
		return cdp.CDP{}, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: err.Error()}
	}
	if req.Operation == cdp.OpMint {
		if err := common.Guard(s.pauses, ModuleIssuance); errors.Is(err, common.ErrModulePaused) {
			return cdp.CDP{}, cdp.ErrEmergencyShutdown
		}
	}
	var next cdp.CDP
	err := s.withRetry(ctx, req.ID, func(ctx context.Context) error {
		current, err := s.load(ctx, req.ID)
		if err != nil {
			return err
		}
		price, err := s.price(ctx, current.CollateralType)
		if err != nil {
			return err
		}
		next, err = result.ToError(s.engine.Apply(current, cdp.MutationRequest{
			CDPID:                          req.ID,
			Caller:                         req.Caller,
			Operation:                      req.Operation,
			Amount:                         req.Amount,
			Price:                          price,
			Now:                            s.timestamp(current.LastUpdated),
			EnforceHealthFactor:            req.EnforceHealthFactor,
			MinHealthFactorAfter:           req.MinHealthFactorAfter,
			EnforceCollateralizationRatio:  req.EnforceCollateralizationRatio,
			MinCollateralizationRatioAfter: req.MinCollateralizationRatioAfter,
		}))
		if err != nil {
			return err
		}
		return s.store.CompareAndSwap(ctx, next, current.LastUpdated)
	})
	if err != nil {
		return cdp.CDP{}, err
	}
	kind := chain.KindUpdate
	if req.Operation == cdp.OpClose {
		kind = chain.KindClose
	}
	s.logger.InfoContext(ctx, "cdp updated",
		"cdp_id", string(next.ID),
		"operation", string(req.Operation),
		"status", string(next.Status),
		"risk_level", string(next.RiskLevel),
	)
	s.commit(ctx, next.ID, kind, func() (chain.Commitment, error) { return chain.FromCDP(kind, next) })
	return next, nil
}

// Reprice marks a position to the current oracle price.
func (s *Service) Reprice(ctx context.Context, id cdp.ID) (cdp.CDP, error) {
	ctx, finish := s.span(ctx, "reprice", attribute.String("cdp.id", string(id)))
	var next cdp.CDP
	err := s.withRetry(ctx, id, func(ctx context.Context) error {
		current, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		price, err := s.price(ctx, current.CollateralType)
		if err != nil {
			return err
		}
		next, err = result.ToError(s.engine.Reprice(current, price, s.timestamp(current.LastUpdated)))
		if err != nil {
			return err
		}
		if err := s.store.CompareAndSwap(ctx, next, current.LastUpdated); err != nil {
			return err
		}
		if next.Status != current.Status {
			s.logger.WarnContext(ctx, "cdp status changed",
				"cdp_id", string(id),
				"status", string(next.Status),
				"risk_level", string(next.RiskLevel),
			)
		}
		return nil
	})
	finish(err)
	if err != nil {
		return cdp.CDP{}, err
	}
	s.commit(ctx, next.ID, chain.KindUpdate, func() (chain.Commitment, error) { return chain.FromCDP(chain.KindUpdate, next) })
	return next, nil
}

// Liquidate runs one liquidation round at the current price. A round that
// exhausts the collateral is persisted and returned together with a
// *cdp.ShortfallError so callers can account for the bad debt.
func (s *Service) Liquidate(ctx context.Context, id cdp.ID) (cdp.LiquidationOutcome, error) {
	ctx, finish := s.span(ctx, "liquidate", attribute.String("cdp.id", string(id)))
	var (
		outcome   cdp.LiquidationOutcome
		shortfall error
	)
	err := s.withRetry(ctx, id, func(ctx context.Context) error {
		current, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		price, err := s.price(ctx, current.CollateralType)
		if err != nil {
			return err
		}
		outcome, err = result.ToError(s.engine.Liquidate(current, price, s.timestamp(current.LastUpdated)))
		shortfall = nil
		var short *cdp.ShortfallError
		switch {
		case errors.As(err, &short):
			outcome, shortfall = short.Outcome, err
		case err != nil:
			return err
		}
		_, err = s.store.RecordLiquidation(ctx, outcome, current.LastUpdated)
		return err
	})
	if err != nil {
		finish(err)
		return cdp.LiquidationOutcome{}, err
	}
	finish(shortfall)

	label := "partial"
	switch {
	case shortfall != nil:
		label = "shortfall"
	case outcome.Final:
		label = "final"
	}
	s.metrics.RecordLiquidation(outcome.CDP.CollateralType, label, outcome.BadDebt.Big())
	level := s.logger.InfoContext
	if shortfall != nil {
		level = s.logger.ErrorContext
	}
	level(ctx, "cdp liquidated",
		"cdp_id", string(id),
		"collateral", outcome.CDP.CollateralType,
		"status", string(outcome.CDP.Status),
		"seized", outcome.CollateralSeized.String(),
		"remaining_debt", outcome.RemainingDebt.String(),
		"bad_debt", outcome.BadDebt.String(),
	)
	s.commit(ctx, id, chain.KindLiquidation, func() (chain.Commitment, error) { return chain.FromLiquidation(outcome) })
	return outcome, shortfall
}

// Liquidations lists the recorded liquidation rounds of a position.
func (s *Service) Liquidations(ctx context.Context, id cdp.ID) ([]storage.LiquidationEvent, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Liquidations(ctx, id)
}

// Portfolio summarizes owner's open positions at current prices.
func (s *Service) Portfolio(ctx context.Context, owner string) (cdp.Portfolio, error) {
	ctx, finish := s.span(ctx, "portfolio")
	positions, err := s.marked(ctx, owner)
	if err == nil {
		var summary cdp.Portfolio
		summary, err = result.ToError(s.engine.Summarize(owner, positions))
		finish(err)
		return summary, err
	}
	finish(err)
	return cdp.Portfolio{}, err
}

// StressTest projects owner's open positions under a uniform price shock in
// basis points, applied to current prices.
func (s *Service) StressTest(ctx context.Context, owner string, shockBps int64) (cdp.StressReport, error) {
	ctx, finish := s.span(ctx, "stress", attribute.Int64("cdp.shock_bps", shockBps))
	positions, err := s.marked(ctx, owner)
	if err == nil {
		var report cdp.StressReport
		report, err = result.ToError(s.engine.StressTest(owner, positions, shockBps))
		finish(err)
		return report, err
	}
	finish(err)
	return cdp.StressReport{}, err
}

// marked loads owner's positions and reprices the live ones in memory. The
// store is not written.
func (s *Service) marked(ctx context.Context, owner string) ([]cdp.CDP, error) {
	positions, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]cdp.Price)
	for i, position := range positions {
		if position.Status.Terminal() {
			continue
		}
		price, ok := prices[position.CollateralType]
		if !ok {
			if price, err = s.price(ctx, position.CollateralType); err != nil {
				return nil, err
			}
			prices[position.CollateralType] = price
		}
		repriced, err := result.ToError(s.engine.Reprice(position, price, s.timestamp(position.LastUpdated)))
		if err != nil {
			return nil, fmt.Errorf("mark %s: %w", position.ID, err)
		}
		positions[i] = repriced
	}
	return positions, nil
}

// EstimateMaxDebt returns the largest debt collateral can back at the
// current price under the collateral's creation minimum.
func (s *Service) EstimateMaxDebt(ctx context.Context, collateralType string, collateral cdp.Amount) (cdp.Amount, error) {
	entry, price, err := s.estimateInputs(ctx, collateralType)
	if err != nil {
		return cdp.Amount{}, err
	}
	return result.ToError(cdp.EstimateMaxDebt(collateral, price, entry.Limits.MinCollateralizationRatio))
}

// EstimateMinCollateral returns the least collateral that backs debt at the
// current price under the collateral's creation minimum.
func (s *Service) EstimateMinCollateral(ctx context.Context, collateralType string, debt cdp.Amount) (cdp.Amount, error) {
	entry, price, err := s.estimateInputs(ctx, collateralType)
	if err != nil {
		return cdp.Amount{}, err
	}
	return result.ToError(cdp.EstimateMinCollateral(debt, price, entry.Limits.MinCollateralizationRatio))
}

func (s *Service) estimateInputs(ctx context.Context, collateralType string) (config.Collateral, cdp.Price, error) {
	entry, err := s.collateral(collateralType)
	if err != nil {
		return config.Collateral{}, cdp.Price{}, err
	}
	price, err := s.price(ctx, collateralType)
	if err != nil {
		return config.Collateral{}, cdp.Price{}, err
	}
	return entry, price, nil
}
