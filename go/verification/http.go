package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/core"
)

// httpVendor talks to a hosted document-verification API. Requests
// carry a bounded deadline so a slow vendor cannot pin a checkout.
type httpVendor struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

func newHTTPVendor(baseURL, apiToken string) *httpVendor {
	return &httpVendor{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type vendorRequest struct {
	SessionRef   string `json:"session_ref"`
	AgeThreshold int    `json:"age_threshold"`
	Stage        string `json:"stage"`
}

type vendorResponse struct {
	Status     string `json:"status"`
	ProofRef   string `json:"proof_ref"`
	DOBYear    int    `json:"dob_year"`
	IDType     string `json:"id_type"`
	IDLast4    string `json:"id_last4"`
	ReasonCode string `json:"reason_code"`
}

// VerifyCheckout implements Verifier.
func (v *httpVendor) VerifyCheckout(ctx context.Context, sessionRef string, ageThreshold int) (Result, error) {
	return v.verify(ctx, sessionRef, ageThreshold, "checkout")
}

// VerifyDoorstep implements Verifier.
func (v *httpVendor) VerifyDoorstep(ctx context.Context, sessionRef string, ageThreshold int) (Result, error) {
	return v.verify(ctx, sessionRef, ageThreshold, "doorstep")
}

func (v *httpVendor) verify(ctx context.Context, sessionRef string, ageThreshold int, stage string) (Result, error) {
	body, err := json.Marshal(vendorRequest{
		SessionRef:   sessionRef,
		AgeThreshold: ageThreshold,
		Stage:        stage,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v3/checks", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building verification request: %w", err)
	}
	req.Header.Set("Authorization", "Token token="+v.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{}, core.VendorUnavailablef("calling verification vendor: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Result{}, core.VendorUnavailablef("verification vendor returned status %d", resp.StatusCode)
	}

	var parsed vendorResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, core.VendorUnavailablef("decoding verification response: %s", err)
	}

	log.WithFields(log.Fields{
		"stage":  stage,
		"status": parsed.Status,
		"reason": parsed.ReasonCode,
	}).Debug("verification vendor result")

	return Result{
		Passed:     parsed.Status == "PASSED",
		ProofRef:   parsed.ProofRef,
		DOBYear:    parsed.DOBYear,
		IDType:     parsed.IDType,
		IDLast4:    parsed.IDLast4,
		ReasonCode: parsed.ReasonCode,
	}, nil
}
