package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"stablecdp/native/cdp"
	"stablecdp/observability/logging"
	"stablecdp/services/cdpd/service"
)

const maxBatchSize = 100

var hundred = decimal.NewFromInt(100)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &cdp.Error{Kind: cdp.KindInvalidInput, Msg: fmt.Sprintf("invalid payload: %v", err)}
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	position, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCDPView(position))
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Requests []service.CreateRequest `json:"requests"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(payload.Requests) > maxBatchSize {
		s.writeError(w, r, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: fmt.Sprintf("batch exceeds %d requests", maxBatchSize)})
		return
	}
	positions, err := s.svc.CreateBatch(r.Context(), payload.Requests)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cdps": newCDPViews(positions)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	position, err := s.svc.Get(r.Context(), cdp.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCDPView(position))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	positions, err := s.svc.List(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cdps": newCDPViews(positions)})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Liquidations(r.Context(), cdp.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": newLiquidationEventViews(events)})
}

type mutateBody struct {
	Caller                         string     `json:"caller"`
	Amount                         cdp.Amount `json:"amount"`
	EnforceHealthFactor            bool       `json:"enforce_health_factor"`
	MinHealthFactorAfter           float64    `json:"min_health_factor_after"`
	EnforceCollateralizationRatio  bool       `json:"enforce_collateralization_ratio"`
	MinCollateralizationRatioAfter uint64     `json:"min_collateralization_ratio_after"`
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	op, err := cdp.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, "UnknownOperation", err.Error())
		return
	}
	var body mutateBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Caller) == "" {
		s.writeError(w, r, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "caller required"})
		return
	}
	position, err := s.svc.Mutate(r.Context(), service.MutateRequest{
		ID:                             cdp.ID(chi.URLParam(r, "id")),
		Caller:                         body.Caller,
		Operation:                      op,
		Amount:                         body.Amount,
		EnforceHealthFactor:            body.EnforceHealthFactor,
		MinHealthFactorAfter:           body.MinHealthFactorAfter,
		EnforceCollateralizationRatio:  body.EnforceCollateralizationRatio,
		MinCollateralizationRatioAfter: body.MinCollateralizationRatioAfter,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCDPView(position))
}

func (s *Server) handleReprice(w http.ResponseWriter, r *http.Request) {
	position, err := s.svc.Reprice(r.Context(), cdp.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCDPView(position))
}

// handleLiquidate answers 200 for shortfall rounds too: the round committed,
// and the response flags the bad debt.
func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.svc.Liquidate(r.Context(), cdp.ID(chi.URLParam(r, "id")))
	shortfall := errors.Is(err, cdp.ErrShortfall)
	if err != nil && !shortfall {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeView(outcome, shortfall))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Portfolio(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPortfolioView(summary))
}

func (s *Server) handleStress(w http.ResponseWriter, r *http.Request) {
	shockBps, err := parseShock(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.StressTest(r.Context(), chi.URLParam(r, "owner"), shockBps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStressView(report))
}

// parseShock reads shock_pct (a decimal percentage, -30 for a 30% drop) or
// shock_bps. Percentages finer than one basis point are rejected.
func parseShock(r *http.Request) (int64, error) {
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("shock_pct")); raw != "" {
		pct, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: fmt.Sprintf("shock_pct: %v", err)}
		}
		bps := pct.Mul(hundred)
		if !bps.IsInteger() {
			return 0, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "shock_pct finer than one basis point"}
		}
		return bps.IntPart(), nil
	}
	if raw := strings.TrimSpace(query.Get("shock_bps")); raw != "" {
		bps, err := decimal.NewFromString(raw)
		if err != nil || !bps.IsInteger() {
			return 0, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "shock_bps must be an integer"}
		}
		return bps.IntPart(), nil
	}
	return 0, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "shock_pct or shock_bps required"}
}

func (s *Server) handleEstimateMaxDebt(w http.ResponseWriter, r *http.Request) {
	collateralType, amount, err := estimateQuery(r, "collateral")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := s.svc.EstimateMaxDebt(r.Context(), collateralType, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collateral_type": collateralType, "collateral": amount, "max_debt": debt})
}

func (s *Server) handleEstimateMinCollateral(w http.ResponseWriter, r *http.Request) {
	collateralType, amount, err := estimateQuery(r, "debt")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := s.svc.EstimateMinCollateral(r.Context(), collateralType, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collateral_type": collateralType, "debt": amount, "min_collateral": collateral})
}

func estimateQuery(r *http.Request, amountKey string) (string, cdp.Amount, error) {
	query := r.URL.Query()
	collateralType := strings.ToUpper(strings.TrimSpace(query.Get("collateral_type")))
	if collateralType == "" {
		return "", cdp.Amount{}, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: "collateral_type required"}
	}
	amount, err := cdp.ParseAmount(query.Get(amountKey))
	if err != nil {
		return "", cdp.Amount{}, &cdp.Error{Kind: cdp.KindInvalidInput, Msg: fmt.Sprintf("%s: %v", amountKey, err)}
	}
	return collateralType, amount, nil
}

func (s *Server) handleShutdownStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Shutdown())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Engaged bool   `json:"engaged"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	method, subject := "", ""
	if principal != nil {
		method, subject = principal.Method, principal.Subject
	}
	s.logger.WarnContext(r.Context(), "emergency shutdown toggled",
		"engaged", body.Engaged,
		"reason", body.Reason,
		"auth_method", method,
		logging.MaskField("operator", subject),
	)
	writeJSON(w, http.StatusOK, s.svc.SetShutdown(body.Engaged, body.Reason))
}
