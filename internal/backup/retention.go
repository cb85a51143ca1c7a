package backup

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DefaultKeep is how many bundles Prune retains per instance.
const DefaultKeep = 5

// Prune deletes the instance's oldest bundles beyond the keep newest and
// returns how many were removed. Individual delete failures are logged and
// skipped so one bad file never blocks the rest of the sweep.
func (s *Service) Prune(instanceID string, keep int) (int, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	records, err := s.List(instanceID)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}
	removed := 0
	for _, rec := range records[keep:] {
		if err := os.Remove(filepath.Join(s.backupDir, rec.Filename)); err != nil {
			log.Warn().Err(err).
				Str("instance", instanceID).
				Str("filename", rec.Filename).
				Msg("failed to prune old backup")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().
			Str("instance", instanceID).
			Int("removed", removed).
			Int("keep", keep).
			Msg("pruned old backups")
	}
	return removed, nil
}
