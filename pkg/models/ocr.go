package models

// Layout block types produced by the OCR service.
const (
	BlockPage             = "PAGE"
	BlockTable            = "TABLE"
	BlockCell             = "CELL"
	BlockSelectionElement = "SELECTION_ELEMENT"
)

// NormalizedBox is a box in page-relative coordinates, each value in [0,1].
type NormalizedBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Geometry struct {
	BoundingBox *NormalizedBox `json:"bounding_box,omitempty"`
}

type TextBlock struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Geometry Geometry `json:"geometry"`
}

type LayoutBlock struct {
	ID        string   `json:"id"`
	BlockType string   `json:"block_type"`
	Geometry  Geometry `json:"geometry"`
}

type OCRMetadata struct {
	Pages       int      `json:"pages"`
	AnalyzedAt  string   `json:"analyzed_at,omitempty"`
	ImageWidth  *float64 `json:"image_width,omitempty"`
	ImageHeight *float64 `json:"image_height,omitempty"`
}

// Bounds returns the image dimensions when the OCR service reported both.
func (m OCRMetadata) Bounds() *ImageBounds {
	if m.ImageWidth == nil || m.ImageHeight == nil {
		return nil
	}
	return &ImageBounds{Width: *m.ImageWidth, Height: *m.ImageHeight}
}

// OCRResult is the text and layout extracted from a blueprint. It is persisted
// by stage 1 and consumed by stages 2 and 3.
type OCRResult struct {
	TextBlocks   []TextBlock   `json:"text_blocks"`
	LayoutBlocks []LayoutBlock `json:"layout_blocks"`
	Metadata     OCRMetadata   `json:"metadata"`
}
