package models

import (
	"encoding/json"
	"math"
)

// Point is an (x, y) vertex in image coordinates.
type Point [2]float64

// BoundingBox is [x_min, y_min, x_max, y_max].
type BoundingBox [4]float64

func (b BoundingBox) XMin() float64 { return b[0] }
func (b BoundingBox) YMin() float64 { return b[1] }
func (b BoundingBox) XMax() float64 { return b[2] }
func (b BoundingBox) YMax() float64 { return b[3] }

func (b BoundingBox) Area() float64 {
	return (b[2] - b[0]) * (b[3] - b[1])
}

// Corners returns the box as a clockwise quadrilateral starting top-left.
func (b BoundingBox) Corners() []Point {
	return []Point{
		{b[0], b[1]},
		{b[2], b[1]},
		{b[2], b[3]},
		{b[0], b[3]},
	}
}

// ImageBounds are the pixel dimensions a detection must fit inside.
type ImageBounds struct {
	Width  float64
	Height float64
}

// OutputMode selects whether rooms carry box corners or model-supplied vertices.
type OutputMode string

const (
	OutputBoxes    OutputMode = "boxes"
	OutputPolygons OutputMode = "polygons"
)

// DetectionCandidate is one raw detector output. BBox and Vertices stay raw so
// malformed entries can be dropped instead of failing the whole response.
type DetectionCandidate struct {
	Confidence float64         `json:"confidence"`
	BBox       json.RawMessage `json:"bbox,omitempty"`
	Vertices   json.RawMessage `json:"vertices,omitempty"`
	NameHint   string          `json:"name_hint,omitempty"`
}

// UnmarshalJSON decodes a candidate leniently. A missing or non-numeric
// confidence becomes NaN, which never passes a threshold.
func (d *DetectionCandidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Confidence json.RawMessage `json:"confidence"`
		BBox       json.RawMessage `json:"bbox"`
		Vertices   json.RawMessage `json:"vertices"`
		NameHint   json.RawMessage `json:"name_hint"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = DetectionCandidate{BBox: raw.BBox, Vertices: raw.Vertices, Confidence: math.NaN()}
	var conf float64
	if len(raw.Confidence) > 0 && json.Unmarshal(raw.Confidence, &conf) == nil && string(raw.Confidence) != "null" {
		d.Confidence = conf
	}
	var hint string
	if json.Unmarshal(raw.NameHint, &hint) == nil {
		d.NameHint = hint
	}
	return nil
}

// Room is a validated detection.
type Room struct {
	ID          string      `json:"id"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Polygon     []Point     `json:"polygon"`
	Confidence  float64     `json:"confidence"`
	NameHint    string      `json:"name_hint,omitempty"`
}
