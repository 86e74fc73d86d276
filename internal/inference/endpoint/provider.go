// Package endpoint calls hosted room detection model endpoints over HTTP.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const serviceName = "inference"

// responseSchema is the minimum shape a model response must have. Individual
// detections are checked later by the post-processor, which drops bad ones.
const responseSchema = `{
	"type": "object",
	"required": ["detections"],
	"properties": {
		"detections": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

// Provider implements models.InferenceProvider against an invocation API
// that serves one model per named endpoint.
type Provider struct {
	baseURL string
	client  *http.Client
	schema  *jsonschema.Schema
}

func NewProvider(baseURL string, timeout time.Duration) (*Provider, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("detections.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add response schema: %w", err)
	}
	schema, err := compiler.Compile("detections.json")
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		schema:  schema,
	}, nil
}

func (p *Provider) Name() string { return "endpoint" }

func (p *Provider) Invoke(ctx context.Context, endpoint string, input models.ModelInput) (models.InferenceResponse, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return models.InferenceResponse{}, fmt.Errorf("encoding model input: %w", err)
	}

	u := fmt.Sprintf("%s/v1/endpoints/%s/invocations", p.baseURL, url.PathEscape(endpoint))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.InferenceResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.InferenceResponse{}, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.InferenceResponse{}, classifyError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.InferenceResponse{}, statusError(endpoint, resp.StatusCode, raw)
	}

	return p.decode(endpoint, raw)
}

func (p *Provider) decode(endpoint string, raw []byte) (models.InferenceResponse, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.InferenceResponse{}, apperr.ModelError("model returned invalid JSON", err).With("endpoint", endpoint)
	}
	if err := p.schema.Validate(doc); err != nil {
		return models.InferenceResponse{}, apperr.ModelError("model response does not match schema", err).With("endpoint", endpoint)
	}

	var out models.InferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.InferenceResponse{}, apperr.ModelError("decoding model response", err).With("endpoint", endpoint)
	}
	return out, nil
}

func statusError(endpoint string, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	cause := fmt.Errorf("status %d: %s", status, strings.TrimSpace(snippet))

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return apperr.Unavailable(serviceName, cause).With("endpoint", endpoint)
	case status == http.StatusBadRequest || status == http.StatusFailedDependency:
		return apperr.ModelError("model rejected the request", cause).With("endpoint", endpoint)
	default:
		return apperr.Wrap(cause, apperr.KindInternal, apperr.CodeInferenceFailed, "inference call failed").
			With("endpoint", endpoint).
			With("status", status)
	}
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

var _ models.InferenceProvider = (*Provider)(nil)
