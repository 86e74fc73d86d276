package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/inference/mock"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() models.ModelInput {
	w, h := 2000.0, 1000.0
	return models.ModelInput{
		ModelVersion: "1.0.0",
		LayoutBlocks: []models.LayoutBlock{
			{ID: "p1", BlockType: models.BlockPage, Geometry: models.Geometry{BoundingBox: &models.NormalizedBox{Width: 1, Height: 1}}},
			{ID: "t1", BlockType: models.BlockTable, Geometry: models.Geometry{BoundingBox: &models.NormalizedBox{Left: 0.25, Top: 0.5, Width: 0.25, Height: 0.25}}},
		},
		Metadata: models.OCRMetadata{Pages: 1, ImageWidth: &w, ImageHeight: &h},
	}
}

func TestMockProvider_FromLayout(t *testing.T) {
	p := mock.NewMockProvider()

	resp, err := p.Invoke(context.Background(), "room-detection-intermediate", sampleInput())
	require.NoError(t, err)

	require.Len(t, resp.Detections, 1)
	assert.Equal(t, 0.9, resp.Detections[0].Confidence)
	assert.JSONEq(t, `[500, 500, 1000, 750]`, string(resp.Detections[0].BBox))
}

func TestMockProvider_Deterministic(t *testing.T) {
	p := mock.NewMockProvider()

	a, err := p.Invoke(context.Background(), "e", sampleInput())
	require.NoError(t, err)
	b, err := p.Invoke(context.Background(), "e", sampleInput())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMockProvider_Refine(t *testing.T) {
	p := mock.NewMockProvider()
	in := sampleInput()
	in.IntermediateResults = []models.Room{
		{ID: "room_001", BoundingBox: models.BoundingBox{10, 10, 100, 100}, Confidence: 0.9, NameHint: "Hall"},
		{ID: "room_002", BoundingBox: models.BoundingBox{200, 200, 300, 300}, Confidence: 0.98},
	}

	resp, err := p.Invoke(context.Background(), "room-detection-final", in)
	require.NoError(t, err)

	require.Len(t, resp.Detections, 2)
	assert.InDelta(t, 0.93, resp.Detections[0].Confidence, 1e-9)
	assert.Equal(t, "Hall", resp.Detections[0].NameHint)
	assert.Equal(t, 0.99, resp.Detections[1].Confidence)
	assert.NotEmpty(t, resp.Detections[1].Vertices)
}

func TestMockProvider_NoFuncReturnsEmpty(t *testing.T) {
	p := &mock.MockProvider{Name_: "bare"}

	resp, err := p.Invoke(context.Background(), "e", models.ModelInput{})
	require.NoError(t, err)
	assert.Empty(t, resp.Detections)
	assert.Equal(t, "bare", p.Name())
}

func TestFailingProvider(t *testing.T) {
	boom := errors.New("endpoint down")
	p := mock.NewFailingProvider(boom)

	_, err := p.Invoke(context.Background(), "e", sampleInput())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "mock-failing", p.Name())
}

func TestTimeoutProvider(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Invoke(ctx, "e", sampleInput())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
