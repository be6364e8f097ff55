package common

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeAddress trims an account identifier and folds it to NFKC so that
// compatibility variants of one address share a ledger key. Case is kept.
func NormalizeAddress(addr string) string {
	return norm.NFKC.String(strings.TrimSpace(addr))
}
