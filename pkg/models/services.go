// Package models contains shared data models used across the roomscan codebase.
package models

import "context"

// OCRProvider extracts text and layout blocks from a stored blueprint.
type OCRProvider interface {
	Analyze(ctx context.Context, documentRef string) (OCRResult, error)
}

// InferenceProvider is the interface every detection model integration implements.
// Never call a specific endpoint client directly; always inject this interface.
type InferenceProvider interface {
	// Invoke runs the named endpoint on input and returns its raw detections.
	Invoke(ctx context.Context, endpoint string, input ModelInput) (InferenceResponse, error)
	// Name returns the provider identifier (e.g., "endpoint", "mock").
	Name() string
}

// ModelInput is the payload sent to an inference endpoint.
type ModelInput struct {
	ModelVersion        string        `json:"model_version"`
	TextBlocks          []TextBlock   `json:"text_blocks"`
	LayoutBlocks        []LayoutBlock `json:"layout_blocks"`
	Metadata            OCRMetadata   `json:"metadata"`
	IntermediateResults []Room        `json:"intermediate_results,omitempty"`
}

type InferenceResponse struct {
	Detections []DetectionCandidate `json:"detections"`
}
