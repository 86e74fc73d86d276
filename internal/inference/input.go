package inference

import "github.com/kiranshivaraju/roomscan/pkg/models"

// BuildModelInput shapes OCR output into the payload the detection endpoints
// accept. Nil slices become empty so the payload always carries both arrays.
func BuildModelInput(ocr models.OCRResult, modelVersion string) models.ModelInput {
	in := models.ModelInput{
		ModelVersion: modelVersion,
		TextBlocks:   ocr.TextBlocks,
		LayoutBlocks: ocr.LayoutBlocks,
		Metadata:     ocr.Metadata,
	}
	if in.TextBlocks == nil {
		in.TextBlocks = []models.TextBlock{}
	}
	if in.LayoutBlocks == nil {
		in.LayoutBlocks = []models.LayoutBlock{}
	}
	return in
}
