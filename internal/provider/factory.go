package provider

import (
	"fmt"

	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/provider/mock"
	"github.com/reelforge/reelforge/internal/provider/veo"
	"github.com/reelforge/reelforge/pkg/models"
)

// New constructs the configured video provider. Called once at server
// startup.
func New(cfg config.ProviderConfig) (models.VideoProvider, error) {
	switch cfg.Name {
	case "veo":
		return veo.NewClient(cfg.BaseURL, cfg.Timeout), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown video provider %q: must be one of veo, mock", cfg.Name)
	}
}
