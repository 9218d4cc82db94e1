package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// VerificationResult is the proof an external provider returns for a document.
type VerificationResult struct {
	Proof     string    `json:"proof"`
	Timestamp time.Time `json:"timestamp"`
}

// VerificationProvider attests document content. It may fail transiently;
// a refusal is reported as ErrVerificationRejected.
type VerificationProvider interface {
	Verify(ctx context.Context, data []byte, priorProof string) (VerificationResult, error)
}

// TextExtractionProvider extracts searchable text from document content.
type TextExtractionProvider interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// HTTPProvider calls a verification service over HTTP.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider returns a provider posting to url with a traced client.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type verifyRequest struct {
	SHA256     string `json:"sha256"`
	Content    string `json:"content"`
	PriorProof string `json:"prior_proof,omitempty"`
}

type verifyResponse struct {
	Proof     string    `json:"proof"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Verify posts the document and returns the provider's proof. 422 is a
// rejection; any other non-2xx status is a transient failure.
func (p *HTTPProvider) Verify(ctx context.Context, data []byte, priorProof string) (VerificationResult, error) {
	sum := sha256.Sum256(data)
	body, err := json.Marshal(verifyRequest{
		SHA256:     hex.EncodeToString(sum[:]),
		Content:    base64.StdEncoding.EncodeToString(data),
		PriorProof: priorProof,
	})
	if err != nil {
		return VerificationResult{}, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return VerificationResult{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	var out verifyResponse
	if resp.StatusCode == http.StatusUnprocessableEntity {
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out)
		if out.Reason != "" {
			return VerificationResult{}, fmt.Errorf("%w: %s", ErrVerificationRejected, out.Reason)
		}
		return VerificationResult{}, ErrVerificationRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VerificationResult{}, fmt.Errorf("verify request: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return VerificationResult{}, fmt.Errorf("decode verify response: %w", err)
	}
	if out.Proof == "" {
		return VerificationResult{}, fmt.Errorf("verify response: empty proof")
	}
	return VerificationResult{Proof: out.Proof, Timestamp: out.Timestamp}, nil
}
