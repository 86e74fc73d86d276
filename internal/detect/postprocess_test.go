package detect

import (
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(conf float64, bbox string) models.DetectionCandidate {
	return models.DetectionCandidate{Confidence: conf, BBox: json.RawMessage(bbox)}
}

func boxesOnly(threshold float64) Options {
	return Options{Threshold: threshold, Mode: models.OutputBoxes}
}

func TestPostProcess_Validation(t *testing.T) {
	tests := []struct {
		name string
		bbox string
		keep bool
	}{
		{name: "valid box", bbox: `[50, 50, 200, 300]`, keep: true},
		{name: "extra entries ignored", bbox: `[50, 50, 200, 300, 7]`, keep: true},
		{name: "too few entries", bbox: `[50, 50, 200]`},
		{name: "string entry", bbox: `[50, "50", 200, 300]`},
		{name: "null entry", bbox: `[50, null, 200, 300]`},
		{name: "not an array", bbox: `{"x": 1}`},
		{name: "missing", bbox: ``},
		{name: "x_min equals x_max", bbox: `[200, 50, 200, 300]`},
		{name: "y_min above y_max", bbox: `[50, 300, 200, 50]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := PostProcess([]models.DetectionCandidate{cand(0.9, tt.bbox)}, boxesOnly(0.7))
			if tt.keep {
				assert.Equal(t, 1, res.DetectionCount)
				assert.Equal(t, 0, res.FilteredCount)
			} else {
				assert.Empty(t, res.Rooms)
				assert.Equal(t, 1, res.FilteredCount)
			}
		})
	}
}

func TestPostProcess_Threshold(t *testing.T) {
	res := PostProcess([]models.DetectionCandidate{
		cand(0.69, `[0, 0, 10, 10]`),
		cand(0.7, `[20, 20, 30, 30]`),
		cand(0.95, `[40, 40, 50, 50]`),
	}, boxesOnly(0.7))

	require.Len(t, res.Rooms, 2)
	for _, r := range res.Rooms {
		assert.GreaterOrEqual(t, r.Confidence, 0.7)
	}
	assert.Equal(t, 1, res.FilteredCount)
}

func TestPostProcess_DropsNonNumericConfidence(t *testing.T) {
	var candidates []models.DetectionCandidate
	require.NoError(t, json.Unmarshal([]byte(`[
		{"bbox": [0, 0, 100, 100], "confidence": "high"},
		{"bbox": [0, 0, 100, 100], "confidence": null},
		{"bbox": [200, 200, 300, 300], "confidence": 0.9}
	]`), &candidates))

	res := PostProcess(candidates, Options{Threshold: 0, Mode: models.OutputBoxes})

	require.Len(t, res.Rooms, 1)
	assert.Equal(t, "room_001", res.Rooms[0].ID)
	assert.Equal(t, 0.9, res.Rooms[0].Confidence)
	assert.Equal(t, 2, res.FilteredCount)
}

func TestPostProcess_Bounds(t *testing.T) {
	opts := boxesOnly(0.7)
	opts.Bounds = &models.ImageBounds{Width: 1000, Height: 1000}

	res := PostProcess([]models.DetectionCandidate{
		cand(0.9, `[1100, 50, 1200, 300]`),
		cand(0.9, `[50, 50, 200, 300]`),
	}, opts)

	require.Len(t, res.Rooms, 1)
	assert.Equal(t, models.BoundingBox{50, 50, 200, 300}, res.Rooms[0].BoundingBox)
	assert.Equal(t, 1, res.FilteredCount)
}

func TestPostProcess_NegativeCoordinateOutOfBounds(t *testing.T) {
	opts := boxesOnly(0.7)
	opts.Bounds = &models.ImageBounds{Width: 1000, Height: 1000}

	res := PostProcess([]models.DetectionCandidate{cand(0.9, `[-1, 0, 10, 10]`)}, opts)
	assert.Empty(t, res.Rooms)
}

func TestPostProcess_IDsFollowInputOrder(t *testing.T) {
	res := PostProcess([]models.DetectionCandidate{
		cand(0.8, `[0, 0, 10, 10]`),
		cand(0.1, `[20, 20, 30, 30]`),
		cand(0.9, `[40, 40, 50, 50]`),
	}, boxesOnly(0.7))

	require.Len(t, res.Rooms, 2)
	assert.Equal(t, "room_001", res.Rooms[0].ID)
	assert.Equal(t, "room_002", res.Rooms[1].ID)
	assert.Equal(t, 0.9, res.Rooms[1].Confidence)
}

func TestPostProcess_SuppressOverlaps(t *testing.T) {
	opts := boxesOnly(0.7)
	opts.SuppressOverlaps = true

	res := PostProcess([]models.DetectionCandidate{
		cand(0.85, `[52, 52, 202, 302]`),
		cand(0.92, `[50, 50, 200, 300]`),
		cand(0.8, `[500, 500, 600, 600]`),
	}, opts)

	require.Len(t, res.Rooms, 2)
	assert.Equal(t, "room_002", res.Rooms[0].ID)
	assert.Equal(t, 0.92, res.Rooms[0].Confidence)
	assert.Equal(t, 0.8, res.Rooms[1].Confidence)
	assert.Equal(t, 2, res.DetectionCount)
	assert.Equal(t, 1, res.FilteredCount)
}

func TestPostProcess_TieKeepsEarlierInput(t *testing.T) {
	opts := boxesOnly(0.7)
	opts.SuppressOverlaps = true

	res := PostProcess([]models.DetectionCandidate{
		{Confidence: 0.9, BBox: json.RawMessage(`[0, 0, 100, 100]`), NameHint: "first"},
		{Confidence: 0.9, BBox: json.RawMessage(`[1, 1, 101, 101]`), NameHint: "second"},
	}, opts)

	require.Len(t, res.Rooms, 1)
	assert.Equal(t, "first", res.Rooms[0].NameHint)
}

func TestPostProcess_NoSuppressionKeepsOverlaps(t *testing.T) {
	res := PostProcess([]models.DetectionCandidate{
		cand(0.9, `[0, 0, 100, 100]`),
		cand(0.8, `[1, 1, 101, 101]`),
	}, boxesOnly(0.7))

	assert.Len(t, res.Rooms, 2)
}

func TestPostProcess_BoxesModeUsesCorners(t *testing.T) {
	c := cand(0.9, `[50, 50, 200, 300]`)
	c.Vertices = json.RawMessage(`[[50, 50], [200, 50], [125, 300]]`)

	res := PostProcess([]models.DetectionCandidate{c}, boxesOnly(0.7))

	require.Len(t, res.Rooms, 1)
	assert.Equal(t, []models.Point{{50, 50}, {200, 50}, {200, 300}, {50, 300}}, res.Rooms[0].Polygon)
}

func TestPostProcess_PolygonMode(t *testing.T) {
	bounds := &models.ImageBounds{Width: 1000, Height: 1000}
	tests := []struct {
		name     string
		vertices string
		want     []models.Point
	}{
		{
			name:     "valid vertices used",
			vertices: `[[50, 50], [200, 50], [125, 300]]`,
			want:     []models.Point{{50, 50}, {200, 50}, {125, 300}},
		},
		{
			name:     "too few vertices fall back",
			vertices: `[[50, 50], [200, 50]]`,
			want:     []models.Point{{50, 50}, {200, 50}, {200, 300}, {50, 300}},
		},
		{
			name:     "non-numeric vertex falls back",
			vertices: `[[50, 50], ["x", 50], [125, 300]]`,
			want:     []models.Point{{50, 50}, {200, 50}, {200, 300}, {50, 300}},
		},
		{
			name:     "vertex out of bounds falls back",
			vertices: `[[50, 50], [2000, 50], [125, 300]]`,
			want:     []models.Point{{50, 50}, {200, 50}, {200, 300}, {50, 300}},
		},
		{
			name:     "missing vertices fall back",
			vertices: ``,
			want:     []models.Point{{50, 50}, {200, 50}, {200, 300}, {50, 300}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cand(0.9, `[50, 50, 200, 300]`)
			c.Vertices = json.RawMessage(tt.vertices)

			res := PostProcess([]models.DetectionCandidate{c}, Options{
				Threshold: 0.7,
				Bounds:    bounds,
				Mode:      models.OutputPolygons,
			})

			require.Len(t, res.Rooms, 1)
			assert.Equal(t, tt.want, res.Rooms[0].Polygon)
		})
	}
}

func TestPostProcess_Empty(t *testing.T) {
	res := PostProcess(nil, boxesOnly(0.7))

	assert.NotNil(t, res.Rooms)
	assert.Empty(t, res.Rooms)
	assert.Equal(t, 0, res.FilteredCount)
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b models.BoundingBox
		want float64
	}{
		{name: "identical", a: models.BoundingBox{0, 0, 10, 10}, b: models.BoundingBox{0, 0, 10, 10}, want: 1},
		{name: "disjoint", a: models.BoundingBox{0, 0, 10, 10}, b: models.BoundingBox{20, 20, 30, 30}, want: 0},
		{name: "touching edges", a: models.BoundingBox{0, 0, 10, 10}, b: models.BoundingBox{10, 0, 20, 10}, want: 0},
		{name: "half overlap", a: models.BoundingBox{0, 0, 10, 10}, b: models.BoundingBox{5, 0, 15, 10}, want: 50.0 / 150.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
		})
	}
}
