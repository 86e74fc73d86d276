package blob

import "fmt"

func BlueprintKey(jobID, filename string) string {
	return fmt.Sprintf("blueprints/%s/%s", jobID, filename)
}

func OCRArtifactKey(jobID string) string {
	return fmt.Sprintf("cache/ocr/%s/analysis.json", jobID)
}

// OCRContentKey holds the OCR output for a content hash so any job with the
// same blueprint can reuse it after a preview cache hit.
func OCRContentKey(contentHash string) string {
	return fmt.Sprintf("cache/ocr/by-hash/%s/analysis.json", contentHash)
}

func IntermediateArtifactKey(jobID string) string {
	return fmt.Sprintf("cache/intermediate/%s/stage_2.json", jobID)
}

func FinalArtifactKey(jobID string) string {
	return fmt.Sprintf("cache/final/%s/results.json", jobID)
}

// JobPrefixes lists every key prefix holding content for jobID.
func JobPrefixes(jobID string) []string {
	return []string{
		fmt.Sprintf("blueprints/%s/", jobID),
		fmt.Sprintf("cache/ocr/%s/", jobID),
		fmt.Sprintf("cache/intermediate/%s/", jobID),
		fmt.Sprintf("cache/final/%s/", jobID),
	}
}
