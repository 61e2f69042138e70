package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"stablecdp/native/cdp"
	"stablecdp/services/cdpd/oracle"
)

type problem struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]problem{"error": {Kind: kind, Message: message}})
}

// writeError maps an error onto its HTTP status. Engine kinds keep their
// name; anything else is reported without internal detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	body := problem{Kind: kind, Message: err.Error()}
	var batch *cdp.BatchError
	if errors.As(err, &batch) {
		index := batch.Index
		body.Index = &index
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "route", routePattern(r), "error", err)
		if kind == "Internal" {
			body.Message = http.StatusText(status)
		}
	}
	writeJSON(w, status, map[string]problem{"error": body})
}

func errorStatus(err error) (int, string) {
	if kind := cdp.KindOf(err); kind != "" {
		return kindStatus(kind), string(kind)
	}
	switch {
	case errors.Is(err, oracle.ErrStale), errors.Is(err, oracle.ErrNoQuotes):
		return http.StatusServiceUnavailable, "PriceUnavailable"
	case errors.Is(err, oracle.ErrUnknownCollateral):
		return http.StatusBadRequest, string(cdp.KindInvalidInput)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	case errors.Is(err, context.Canceled):
		return 499, "Canceled"
	}
	return http.StatusInternalServerError, "Internal"
}

func kindStatus(kind cdp.Kind) int {
	switch kind {
	case cdp.KindCDPNotFound:
		return http.StatusNotFound
	case cdp.KindUnauthorized:
		return http.StatusForbidden
	case cdp.KindEmergencyShutdown:
		return http.StatusServiceUnavailable
	case cdp.KindConflict, cdp.KindDuplicateID, cdp.KindCDPAlreadyClosed,
		cdp.KindInvalidTransition, cdp.KindTimestampRegression, cdp.KindNotLiquidatable:
		return http.StatusConflict
	case cdp.KindInvalidInput, cdp.KindInvalidAmount:
		return http.StatusBadRequest
	case cdp.KindShortfall:
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}
