package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultScanInterval is how often the recovery scanner re-checks the
// credential root after the startup pass.
const DefaultScanInterval = 10 * time.Minute

// Instance identifies a session whose credentials the scanner watches.
type Instance struct {
	InstanceID string
	TenantID   string
}

// Results summarizes one scanner pass.
type Results struct {
	Checked  int
	Restored int
	Failed   int
}

// Scanner restores missing credential directories from the backup store. It
// covers the window where a credential directory is lost (disk wipe, bad
// deploy) while the session registry still expects it.
type Scanner struct {
	service   *Service
	instances func() []Instance
	interval  time.Duration
}

// NewScanner returns a scanner over the given service. instances is called
// on every pass so the set tracks the live registry.
func NewScanner(service *Service, instances func() []Instance, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scanner{service: service, instances: instances, interval: interval}
}

// Run performs an immediate pass and then repeats on the scanner interval
// until ctx is canceled.
func (sc *Scanner) Run(ctx context.Context) {
	sc.scan()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.scan()
		}
	}
}

func (sc *Scanner) scan() {
	res := Results{}
	for _, inst := range sc.instances() {
		res.Checked++
		restored, err := sc.CheckAndRestore(inst)
		if err != nil {
			res.Failed++
			continue
		}
		if restored {
			res.Restored++
		}
	}
	if res.Restored > 0 || res.Failed > 0 {
		log.Info().
			Int("checked", res.Checked).
			Int("restored", res.Restored).
			Int("failed", res.Failed).
			Msg("recovery scan complete")
	}
}

// Bootstrap restores every stored instance whose credential directory is
// missing from the credential root. It runs once at startup before sessions
// are resumed, so a wiped host comes back with its credentials in place.
func (sc *Scanner) Bootstrap() Results {
	res := Results{}
	ids, err := sc.service.StoredInstances()
	if err != nil {
		log.Error().Err(err).Msg("backup store scan failed")
		return res
	}
	for _, id := range ids {
		res.Checked++
		if sc.credentialDirExists(id) {
			continue
		}
		// The bundle's entries carry the tenant prefix, so restoring without
		// a tenant id still recreates the right layout.
		if err := sc.service.Restore(id, ""); err != nil {
			res.Failed++
			log.Error().Err(err).Str("instance", id).Msg("bootstrap restore failed")
			continue
		}
		res.Restored++
	}
	if res.Restored > 0 || res.Failed > 0 {
		log.Info().
			Int("checked", res.Checked).
			Int("restored", res.Restored).
			Int("failed", res.Failed).
			Msg("bootstrap recovery complete")
	}
	return res
}

// credentialDirExists looks for the instance's directory under either the
// tenant-scoped or the legacy root layout.
func (sc *Scanner) credentialDirExists(instanceID string) bool {
	root := sc.service.credentialRoot
	if fi, err := os.Stat(filepath.Join(root, sessionDirPrefix+instanceID)); err == nil && fi.IsDir() {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(root, tenantDirPrefix+"*", sessionDirPrefix+instanceID))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

// CheckAndRestore restores the instance's credential directory from the
// latest bundle when it is missing on disk. It reports whether a restore
// happened. A missing directory with no backup is not an error; the
// instance simply re-pairs from scratch.
func (sc *Scanner) CheckAndRestore(inst Instance) (bool, error) {
	credDir := CredentialDir(sc.service.credentialRoot, inst.TenantID, inst.InstanceID)
	if fi, err := os.Stat(credDir); err == nil && fi.IsDir() {
		return false, nil
	}
	err := sc.service.Restore(inst.InstanceID, inst.TenantID)
	if err != nil {
		if errors.Is(err, ErrNoBackupFound) {
			return false, nil
		}
		log.Error().Err(err).
			Str("instance", inst.InstanceID).
			Msg("recovery scan restore failed")
		return false, err
	}
	return true, nil
}
