package harvestd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
	errNoSeizer     = errors.New("harvestd: liquidation settlement not configured")
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest),
		errors.Is(err, common.ErrInvalidDecimal),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidAddress),
		errors.Is(err, lending.ErrInvalidPrice),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, distribution.ErrInvalidAmount),
		errors.Is(err, distribution.ErrInvalidRequest),
		errors.Is(err, distribution.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, distribution.ErrNotGroveFarmer):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrPoolNotFound),
		errors.Is(err, pricing.ErrUnknownAsset),
		errors.Is(err, distribution.ErrDistributionNotFound),
		errors.Is(err, distribution.ErrHolderNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrDuplicateLoan),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, distribution.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrEmptyPool),
		errors.Is(err, distribution.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientLocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrModulePaused),
		errors.Is(err, ledger.ErrTransient),
		errors.Is(err, errNoSeizer):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
