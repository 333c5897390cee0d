package dedup

import (
	"context"

	"go.uber.org/zap"
)

// KeySource lists keys persisted by earlier runs.
type KeySource interface {
	ExistingKeys(ctx context.Context) ([]string, error)
}

// SeedFrom loads prior keys from src. A read failure leaves the store as it
// was and is only logged: a missing or corrupt prior output means a fresh run.
func (s *Store) SeedFrom(ctx context.Context, src KeySource, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if src == nil {
		return 0
	}
	keys, err := src.ExistingKeys(ctx)
	if err != nil {
		logger.Warn("could not read prior output; starting with an empty dedup set", zap.Error(err))
		return 0
	}
	added := s.Seed(keys)
	if added > 0 {
		logger.Info("resumed from prior output", zap.Int("known_places", added))
	}
	return added
}
