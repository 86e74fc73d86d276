package detect

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// previewScale is the side length of the square canvas preview regions are
// projected onto.
const previewScale = 1000

const (
	tableConfidence   = 0.75
	pageConfidence    = 0.6
	defaultConfidence = 0.5
)

var roomKeywords = []string{
	"room", "bedroom", "bathroom", "kitchen", "living", "dining",
	"hall", "entry", "office", "study", "garage", "basement",
	"attic", "closet", "pantry", "laundry", "utility",
}

// PreviewRooms derives coarse rooms from OCR layout. TABLE regions win; then
// the first PAGE region; then a single room covering the whole canvas.
func PreviewRooms(ocr models.OCRResult) []models.Room {
	var rooms []models.Room

	tableIdx := 0
	for _, b := range ocr.LayoutBlocks {
		if b.BlockType != models.BlockTable {
			continue
		}
		tableIdx++
		if b.Geometry.BoundingBox == nil {
			continue
		}
		rooms = append(rooms, previewRoom(fmt.Sprintf("room_%03d", tableIdx), *b.Geometry.BoundingBox, tableConfidence, ocr.TextBlocks))
	}
	if len(rooms) > 0 {
		return rooms
	}

	for _, b := range ocr.LayoutBlocks {
		if b.BlockType != models.BlockPage {
			continue
		}
		if b.Geometry.BoundingBox != nil {
			return []models.Room{previewRoom("room_001", *b.Geometry.BoundingBox, pageConfidence, ocr.TextBlocks)}
		}
		break
	}

	box := models.BoundingBox{0, 0, previewScale, previewScale}
	return []models.Room{{
		ID:          "room_001",
		BoundingBox: box,
		Polygon:     box.Corners(),
		Confidence:  defaultConfidence,
	}}
}

func previewRoom(id string, nb models.NormalizedBox, confidence float64, text []models.TextBlock) models.Room {
	left := nb.Left * previewScale
	top := nb.Top * previewScale
	box := models.BoundingBox{
		float64(int(left)),
		float64(int(top)),
		float64(int(left + nb.Width*previewScale)),
		float64(int(top + nb.Height*previewScale)),
	}
	return models.Room{
		ID:          id,
		BoundingBox: box,
		Polygon:     box.Corners(),
		Confidence:  confidence,
		NameHint:    nameHint(text, box),
	}
}

// nameHint returns the first text block anchored inside box that mentions a
// room keyword.
func nameHint(blocks []models.TextBlock, box models.BoundingBox) string {
	for _, tb := range blocks {
		nb := tb.Geometry.BoundingBox
		if nb == nil {
			continue
		}
		x, y := nb.Left*previewScale, nb.Top*previewScale
		if x < box.XMin() || x > box.XMax() || y < box.YMin() || y > box.YMax() {
			continue
		}
		lower := strings.ToLower(tb.Text)
		for _, kw := range roomKeywords {
			if strings.Contains(lower, kw) {
				return strings.TrimSpace(tb.Text)
			}
		}
	}
	return ""
}
