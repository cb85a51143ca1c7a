// Package backup archives session credential directories into encrypted
// bundles on the local backup store, restores them after data loss, and
// prunes old bundles per instance.
package backup

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrCredentialDirNotFound is returned by Backup when the instance has no
	// credential directory on disk.
	ErrCredentialDirNotFound = errors.New("backup: credential directory not found")

	// ErrNoBackupFound is returned by Restore when no bundle exists for the
	// instance.
	ErrNoBackupFound = errors.New("backup: no backup found for instance")
)

const bundleSuffix = "_encrypted.zip"

// Record describes one encrypted bundle in the backup store.
type Record struct {
	InstanceID string    `json:"instanceId"`
	TenantID   string    `json:"tenantId,omitempty"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Service owns the encrypted local backup store for credential directories.
type Service struct {
	credentialRoot string
	backupDir      string
	key            []byte
}

// NewService returns a backup service over the given credential root and
// backup store directory. The key is validated lazily so that a service with
// a bad key still lists and prunes.
func NewService(credentialRoot, backupDir string, key []byte) *Service {
	return &Service{
		credentialRoot: credentialRoot,
		backupDir:      backupDir,
		key:            key,
	}
}

// CredentialRoot returns the root directory holding credential stores.
func (s *Service) CredentialRoot() string { return s.credentialRoot }

// Backup archives the instance's credential directory (preserving its
// internal relative layout), encrypts the bundle, and writes it to the
// backup store named after the instance and the current time.
func (s *Service) Backup(instanceID, tenantID string) (Record, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("backup: backup store: %w", err)
	}
	credDir := CredentialDir(s.credentialRoot, tenantID, instanceID)
	if fi, err := os.Stat(credDir); err != nil || !fi.IsDir() {
		return Record{}, fmt.Errorf("%w: %s", ErrCredentialDirNotFound, credDir)
	}

	tmp, err := os.CreateTemp("", sessionDirPrefix+instanceID+"_*.zip")
	if err != nil {
		return Record{}, fmt.Errorf("backup: temp bundle: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeArchive(tmp, credDir, archivePrefix(tenantID, instanceID)); err != nil {
		tmp.Close()
		return Record{}, err
	}
	if err := tmp.Close(); err != nil {
		return Record{}, fmt.Errorf("backup: temp bundle: %w", err)
	}

	plain, err := os.ReadFile(tmpPath)
	if err != nil {
		return Record{}, fmt.Errorf("backup: read bundle: %w", err)
	}
	encrypted, err := EncryptBuffer(plain, s.key)
	if err != nil {
		return Record{}, err
	}

	now := time.Now()
	filename := fmt.Sprintf("%s%s_%d%s", sessionDirPrefix, instanceID, now.UnixMilli(), bundleSuffix)
	if err := os.WriteFile(filepath.Join(s.backupDir, filename), encrypted, 0o600); err != nil {
		return Record{}, fmt.Errorf("backup: write bundle: %w", err)
	}

	rec := Record{
		InstanceID: instanceID,
		TenantID:   tenantID,
		Filename:   filename,
		SizeBytes:  int64(len(encrypted)),
		CreatedAt:  now,
	}
	log.Info().
		Str("instance", instanceID).
		Str("filename", filename).
		Int64("size", rec.SizeBytes).
		Msg("credential directory backed up")
	return rec, nil
}

// Restore decrypts the most recent bundle for the instance and unpacks it
// into the credential root, recreating the tenant subdirectory if needed.
func (s *Service) Restore(instanceID, tenantID string) error {
	names, err := s.bundleNames(instanceID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: %s", ErrNoBackupFound, instanceID)
	}
	// Bundle names embed a millisecond timestamp, so descending lexicographic
	// order is newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	latest := names[0]

	encrypted, err := os.ReadFile(filepath.Join(s.backupDir, latest))
	if err != nil {
		return fmt.Errorf("backup: read bundle: %w", err)
	}
	plain, err := DecryptBuffer(encrypted, s.key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", sessionDirPrefix+instanceID+"_restore_*.zip")
	if err != nil {
		return fmt.Errorf("backup: temp bundle: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(plain); err != nil {
		tmp.Close()
		return fmt.Errorf("backup: temp bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backup: temp bundle: %w", err)
	}

	if err := os.MkdirAll(TenantDir(s.credentialRoot, tenantID), 0o755); err != nil {
		return fmt.Errorf("backup: tenant directory: %w", err)
	}
	if err := extractArchive(tmpPath, s.credentialRoot); err != nil {
		return err
	}
	log.Info().
		Str("instance", instanceID).
		Str("tenant", tenantID).
		Str("filename", latest).
		Msg("credential directory restored from backup")
	return nil
}

// List returns the instance's backup records sorted newest-first by
// modification time.
func (s *Service) List(instanceID string) ([]Record, error) {
	names, err := s.bundleNames(instanceID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(names))
	for _, name := range names {
		fi, err := os.Stat(filepath.Join(s.backupDir, name))
		if err != nil {
			continue
		}
		out = append(out, Record{
			InstanceID: instanceID,
			Filename:   name,
			SizeBytes:  fi.Size(),
			CreatedAt:  fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StoredInstances returns the distinct instance ids that have at least one
// bundle in the backup store.
func (s *Service) StoredInstances() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: backup store: %w", err)
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, sessionDirPrefix) || !strings.HasSuffix(name, bundleSuffix) {
			continue
		}
		core := strings.TrimSuffix(strings.TrimPrefix(name, sessionDirPrefix), bundleSuffix)
		// Strip the trailing millisecond timestamp segment.
		i := strings.LastIndexByte(core, '_')
		if i <= 0 {
			continue
		}
		id := core[:i]
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Service) bundleNames(instanceID string) ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: backup store: %w", err)
	}
	prefix := sessionDirPrefix + instanceID + "_"
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, bundleSuffix) {
			names = append(names, name)
		}
	}
	return names, nil
}

// writeArchive zips dir into w with entry paths rooted at prefix.
func writeArchive(w io.Writer, dir, prefix string) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(prefix + "/" + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("backup: archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("backup: archive: %w", err)
	}
	return nil
}

// extractArchive unpacks the zip at path into root, rejecting entries that
// would escape it.
func extractArchive(path, root string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("backup: open bundle: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
			return fmt.Errorf("backup: bundle entry escapes root: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("backup: unpack: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("backup: unpack: %w", err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("backup: unpack: %w", err)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("backup: unpack: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("backup: unpack: %w", err)
	}
	return nil
}
