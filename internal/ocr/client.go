// Package ocr is the client for the document analysis service that extracts
// text and layout blocks from stored blueprints.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

const serviceName = "ocr"

// HTTPClient implements models.OCRProvider over the analysis service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new OCR client. timeout bounds each Analyze call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	DocumentRef string `json:"document_ref"`
}

// Analyze runs text and layout analysis on the blob at documentRef.
func (c *HTTPClient) Analyze(ctx context.Context, documentRef string) (models.OCRResult, error) {
	body, err := json.Marshal(analyzeRequest{DocumentRef: documentRef})
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("encoding analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.OCRResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.OCRResult{}, statusError(resp)
	}

	var result models.OCRResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.OCRResult{}, apperr.Wrap(err, apperr.KindInternal, apperr.CodeOCRAnalysisFailed, "decoding analysis response")
	}
	return result, nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperr.Unavailable(serviceName, cause)
	}
	return apperr.Wrap(cause, apperr.KindInternal, apperr.CodeOCRAnalysisFailed, "document analysis failed").
		With("status", resp.StatusCode)
}

// classifyError maps transport-level failures. Timeouts and connection
// failures are Unavailable; caller cancellation passes through.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable(serviceName, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Unavailable(serviceName, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Unavailable(serviceName, err)
	}
	return fmt.Errorf("calling %s: %w", serviceName, err)
}

var _ models.OCRProvider = (*HTTPClient)(nil)
