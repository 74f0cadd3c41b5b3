package emergency

import (
	"context"
	"fmt"

	"github.com/servimap/servimap/internal/app/domain/provider"
)

// Reindex pushes every ready, approved provider into the locator. Used at
// startup when the geo index lives outside the system of record.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	configs, err := s.providers.ListReadyEmergencyConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ready configs: %w", err)
	}
	indexed := 0
	for _, cfg := range configs {
		p, err := s.providers.GetProvider(ctx, cfg.ProviderID)
		if err != nil {
			s.log.WithError(err).WithField("provider_id", cfg.ProviderID).Warn("skip reindex")
			continue
		}
		ready := p.Status == provider.StatusApproved
		if err := s.locator.Update(ctx, p.ID, p.Location, ready); err != nil {
			return indexed, fmt.Errorf("index provider %s: %w", p.ID, err)
		}
		if ready {
			indexed++
		}
	}
	return indexed, nil
}

// IndexSync rebuilds the geo index when the application starts.
type IndexSync struct {
	service *Service
}

// NewIndexSync wraps service as a lifecycle component.
func NewIndexSync(service *Service) *IndexSync {
	return &IndexSync{service: service}
}

func (i *IndexSync) Name() string { return "emergency-index" }

func (i *IndexSync) Start(ctx context.Context) error {
	n, err := i.service.Reindex(ctx)
	if err != nil {
		return err
	}
	i.service.log.WithField("providers", n).Info("emergency index rebuilt")
	return nil
}

func (i *IndexSync) Stop(context.Context) error { return nil }
