package harvestd

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{badRequest("missing %s", "amount"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", lending.ErrInvalidAmount), http.StatusBadRequest},
		{distribution.ErrInvalidSnapshot, http.StatusBadRequest},
		{lending.ErrPoolNotFound, http.StatusNotFound},
		{distribution.ErrDistributionNotFound, http.StatusNotFound},
		{lending.ErrDuplicateLoan, http.StatusConflict},
		{distribution.ErrAlreadyClaimed, http.StatusConflict},
		{fmt.Errorf("%w: %w", lending.ErrInsufficientBalance, ledger.ErrInsufficientBalance), http.StatusUnprocessableEntity},
		{lending.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
		{distribution.ErrNotGroveFarmer, http.StatusForbidden},
		{common.ErrModulePaused, http.StatusServiceUnavailable},
		{errNoSeizer, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
