// Package inference wires the room detection model behind models.InferenceProvider.
package inference

import (
	"fmt"

	"github.com/kiranshivaraju/roomscan/internal/config"
	"github.com/kiranshivaraju/roomscan/internal/inference/endpoint"
	"github.com/kiranshivaraju/roomscan/internal/inference/mock"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// NewProvider constructs the inference provider named in config.
// Called once at server startup.
func NewProvider(cfg config.InferenceConfig) (models.InferenceProvider, error) {
	switch cfg.Provider {
	case "endpoint":
		p, err := endpoint.NewProvider(cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of endpoint, mock", cfg.Provider)
	}
}
