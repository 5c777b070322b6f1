// Package verification wraps the identity-verification vendor behind a
// narrow contract used at checkout and at the doorstep. The concrete
// vendor is chosen once at startup from IDV_VENDOR.
package verification

import (
	"context"
	"fmt"
	"strings"
)

// Reason codes a FAILED result may carry.
const (
	ReasonUnderage      = "UNDERAGE"
	ReasonNoID          = "NO_ID"
	ReasonMismatch      = "MISMATCH"
	ReasonDocInvalid    = "DOC_INVALID"
	ReasonExpired       = "EXPIRED"
	ReasonSuspectedFake = "SUSPECTED_FAKE"
	ReasonVendorError   = "VENDOR_ERROR"
)

// Result is the vendor's verdict on one verification session.
type Result struct {
	Passed     bool
	ProofRef   string
	DOBYear    int    // zero when unknown
	IDType     string // doorstep only
	IDLast4    string // doorstep only
	ReasonCode string // set iff !Passed
}

// Verifier is the vendor contract. A transport failure is an error
// wrapping core.ErrVendorUnavailable; a FAILED business outcome is a
// nil-error Result with Passed=false and a ReasonCode.
type Verifier interface {
	VerifyCheckout(ctx context.Context, sessionRef string, ageThreshold int) (Result, error)
	VerifyDoorstep(ctx context.Context, sessionRef string, ageThreshold int) (Result, error)
}

// New selects a vendor implementation by name.
func New(vendor, baseURL, apiToken string) (Verifier, error) {
	switch strings.ToLower(vendor) {
	case "", "fake":
		return Fake{}, nil
	case "onfido":
		return newHTTPVendor(baseURL, apiToken), nil
	default:
		return nil, fmt.Errorf("unknown IDV_VENDOR %q", vendor)
	}
}
