package mock

import (
	"context"
	"encoding/json"
	"math"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for tests and local runs.
type MockProvider struct {
	Name_      string
	InvokeFunc func(ctx context.Context, endpoint string, input models.ModelInput) (models.InferenceResponse, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Invoke(ctx context.Context, endpoint string, input models.ModelInput) (models.InferenceResponse, error) {
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, endpoint, input)
	}
	return models.InferenceResponse{Detections: []models.DetectionCandidate{}}, nil
}

// NewMockProvider returns a MockProvider that derives detections from the
// input deterministically. Each TABLE region becomes a room at 0.9, scaled to
// the reported image size; with refinement context the prior rooms are
// echoed back at slightly higher confidence.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		InvokeFunc: func(_ context.Context, _ string, input models.ModelInput) (models.InferenceResponse, error) {
			if len(input.IntermediateResults) > 0 {
				return refine(input.IntermediateResults), nil
			}
			return fromLayout(input), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		InvokeFunc: func(_ context.Context, _ string, _ models.ModelInput) (models.InferenceResponse, error) {
			return models.InferenceResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		InvokeFunc: func(ctx context.Context, _ string, _ models.ModelInput) (models.InferenceResponse, error) {
			<-ctx.Done()
			return models.InferenceResponse{}, ctx.Err()
		},
	}
}

func fromLayout(input models.ModelInput) models.InferenceResponse {
	width, height := 1000.0, 1000.0
	if b := input.Metadata.Bounds(); b != nil {
		width, height = b.Width, b.Height
	}

	detections := []models.DetectionCandidate{}
	for _, lb := range input.LayoutBlocks {
		nb := lb.Geometry.BoundingBox
		if lb.BlockType != models.BlockTable || nb == nil {
			continue
		}
		box := models.BoundingBox{
			math.Floor(nb.Left * width),
			math.Floor(nb.Top * height),
			math.Floor((nb.Left + nb.Width) * width),
			math.Floor((nb.Top + nb.Height) * height),
		}
		detections = append(detections, candidate(box, 0.9, ""))
	}
	return models.InferenceResponse{Detections: detections}
}

func refine(prior []models.Room) models.InferenceResponse {
	detections := make([]models.DetectionCandidate, 0, len(prior))
	for _, r := range prior {
		detections = append(detections, candidate(r.BoundingBox, math.Min(r.Confidence+0.03, 0.99), r.NameHint))
	}
	return models.InferenceResponse{Detections: detections}
}

func candidate(box models.BoundingBox, confidence float64, hint string) models.DetectionCandidate {
	bbox, _ := json.Marshal(box)
	vertices, _ := json.Marshal(box.Corners())
	return models.DetectionCandidate{
		Confidence: confidence,
		BBox:       bbox,
		Vertices:   vertices,
		NameHint:   hint,
	}
}

// Compile-time check that MockProvider implements InferenceProvider.
var _ models.InferenceProvider = (*MockProvider)(nil)
