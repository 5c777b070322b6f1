package verification

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Fake is the development vendor. The session reference drives the
// outcome: "pass" passes, "underage"/"noid"/"mismatch" fail with the
// matching reason, anything else fails as a vendor error.
type Fake struct{}

func proofRef() string {
	return "proof_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// VerifyCheckout implements Verifier.
func (Fake) VerifyCheckout(_ context.Context, sessionRef string, _ int) (Result, error) {
	switch {
	case strings.Contains(sessionRef, "pass"):
		return Result{Passed: true, ProofRef: proofRef(), DOBYear: 1999}, nil
	case strings.Contains(sessionRef, "underage"):
		return Result{ProofRef: proofRef(), ReasonCode: ReasonUnderage}, nil
	default:
		return Result{ProofRef: proofRef(), ReasonCode: ReasonVendorError}, nil
	}
}

// VerifyDoorstep implements Verifier.
func (Fake) VerifyDoorstep(_ context.Context, sessionRef string, _ int) (Result, error) {
	switch {
	case strings.Contains(sessionRef, "pass"):
		return Result{Passed: true, ProofRef: proofRef(), DOBYear: 1999, IDType: "DL", IDLast4: "1234"}, nil
	case strings.Contains(sessionRef, "noid"):
		return Result{ProofRef: proofRef(), ReasonCode: ReasonNoID}, nil
	case strings.Contains(sessionRef, "mismatch"):
		return Result{ProofRef: proofRef(), ReasonCode: ReasonMismatch}, nil
	case strings.Contains(sessionRef, "underage"):
		return Result{ProofRef: proofRef(), ReasonCode: ReasonUnderage}, nil
	default:
		return Result{ProofRef: proofRef(), ReasonCode: ReasonVendorError}, nil
	}
}
