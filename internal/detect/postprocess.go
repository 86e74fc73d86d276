// Package detect turns raw detector output into validated rooms.
package detect

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// DefaultThreshold is the minimum confidence a detection needs to be kept.
const DefaultThreshold = 0.7

// overlapIoU is the IoU above which the lower-confidence box is suppressed.
const overlapIoU = 0.5

// Options control PostProcess.
type Options struct {
	Threshold        float64
	Bounds           *models.ImageBounds // nil skips the bounds check
	SuppressOverlaps bool
	Mode             models.OutputMode
}

// Result is the output of PostProcess.
type Result struct {
	Rooms          []models.Room
	DetectionCount int
	FilteredCount  int
}

// PostProcess validates candidates, assigns room IDs to survivors in input
// order and optionally suppresses overlapping boxes. Malformed candidates are
// dropped; PostProcess never fails.
func PostProcess(candidates []models.DetectionCandidate, opts Options) Result {
	rooms := make([]models.Room, 0, len(candidates))

	for _, c := range candidates {
		// NaN confidence fails this check too.
		if !(c.Confidence >= opts.Threshold) {
			continue
		}
		box, ok := parseBBox(c.BBox)
		if !ok {
			continue
		}
		if box.XMin() >= box.XMax() || box.YMin() >= box.YMax() {
			continue
		}
		if opts.Bounds != nil && !boxInBounds(box, *opts.Bounds) {
			continue
		}

		polygon := box.Corners()
		if opts.Mode == models.OutputPolygons {
			if vertices, ok := parseVertices(c.Vertices, opts.Bounds); ok {
				polygon = vertices
			}
		}

		rooms = append(rooms, models.Room{
			ID:          fmt.Sprintf("room_%03d", len(rooms)+1),
			BoundingBox: box,
			Polygon:     polygon,
			Confidence:  c.Confidence,
			NameHint:    c.NameHint,
		})
	}

	if opts.SuppressOverlaps && len(rooms) > 1 {
		rooms = suppress(rooms)
	}

	return Result{
		Rooms:          rooms,
		DetectionCount: len(rooms),
		FilteredCount:  len(candidates) - len(rooms),
	}
}

// suppress keeps rooms in descending confidence order, dropping any room whose
// IoU with an already kept room exceeds overlapIoU. Ties keep input order.
func suppress(rooms []models.Room) []models.Room {
	sorted := make([]models.Room, len(rooms))
	copy(sorted, rooms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]models.Room, 0, len(sorted))
	for _, r := range sorted {
		overlaps := false
		for _, k := range kept {
			if IoU(r.BoundingBox, k.BoundingBox) > overlapIoU {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, r)
		}
	}
	return kept
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b models.BoundingBox) float64 {
	ix := min(a.XMax(), b.XMax()) - max(a.XMin(), b.XMin())
	iy := min(a.YMax(), b.YMax()) - max(a.YMin(), b.YMin())
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func boxInBounds(b models.BoundingBox, bounds models.ImageBounds) bool {
	return b.XMin() >= 0 && b.YMin() >= 0 && b.XMax() <= bounds.Width && b.YMax() <= bounds.Height
}

func parseBBox(raw json.RawMessage) (models.BoundingBox, bool) {
	var entries []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil || len(entries) < 4 {
		return models.BoundingBox{}, false
	}
	var box models.BoundingBox
	for i := range box {
		v, ok := number(entries[i])
		if !ok {
			return models.BoundingBox{}, false
		}
		box[i] = v
	}
	return box, true
}

func parseVertices(raw json.RawMessage, bounds *models.ImageBounds) ([]models.Point, bool) {
	var entries []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil || len(entries) < 3 {
		return nil, false
	}
	points := make([]models.Point, 0, len(entries))
	for _, e := range entries {
		var coords []json.RawMessage
		if json.Unmarshal(e, &coords) != nil || len(coords) < 2 {
			return nil, false
		}
		x, okX := number(coords[0])
		y, okY := number(coords[1])
		if !okX || !okY {
			return nil, false
		}
		if bounds != nil && (x < 0 || x > bounds.Width || y < 0 || y > bounds.Height) {
			return nil, false
		}
		points = append(points, models.Point{x, y})
	}
	return points, true
}

// number decodes a JSON number. Strings, booleans and null are rejected.
func number(raw json.RawMessage) (float64, bool) {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
