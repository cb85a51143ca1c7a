package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()
	return NewService(filepath.Join(root, "auth"), filepath.Join(root, "backups"), testKey())
}

func seedCredentials(t *testing.T, s *Service, tenantID, instanceID string) string {
	t.Helper()
	dir := CredentialDir(s.credentialRoot, tenantID, instanceID)
	if err := os.MkdirAll(filepath.Join(dir, "keys"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(`{"registered":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "keys", "pre-key-1.json"), []byte("pk"), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	s := newTestService(t)
	dir := seedCredentials(t, s, "acme", "inst-1")

	rec, err := s.Backup("inst-1", "acme")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if rec.SizeBytes == 0 {
		t.Fatal("expected non-empty bundle")
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore("inst-1", "acme"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("restored creds missing: %v", err)
	}
	if string(got) != `{"registered":true}` {
		t.Fatalf("restored creds mismatch: %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "keys", "pre-key-1.json")); err != nil {
		t.Fatalf("restored key file missing: %v", err)
	}
}

func TestBackupWithoutCredentialDir(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Backup("ghost", ""); !errors.Is(err, ErrCredentialDirNotFound) {
		t.Fatalf("expected ErrCredentialDirNotFound, got %v", err)
	}
}

func TestRestoreWithoutBundle(t *testing.T) {
	s := newTestService(t)
	if err := s.Restore("ghost", ""); !errors.Is(err, ErrNoBackupFound) {
		t.Fatalf("expected ErrNoBackupFound, got %v", err)
	}
}

func TestRestorePicksNewestBundle(t *testing.T) {
	s := newTestService(t)
	dir := seedCredentials(t, s, "", "inst-2")

	if _, err := s.Backup("inst-2", ""); err != nil {
		t.Fatal(err)
	}
	// Bundle names carry millisecond timestamps.
	time.Sleep(5 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Backup("inst-2", ""); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore("inst-2", ""); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected newest bundle contents, got %s", got)
	}
}

func TestListSortsNewestFirst(t *testing.T) {
	s := newTestService(t)
	seedCredentials(t, s, "", "inst-3")
	for i := 0; i < 3; i++ {
		if _, err := s.Backup("inst-3", ""); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	records, err := s.List("inst-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAt.After(records[i-1].CreatedAt) {
			t.Fatal("records not sorted newest-first")
		}
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := newTestService(t)
	seedCredentials(t, s, "", "inst-4")
	var last Record
	for i := 0; i < 8; i++ {
		rec, err := s.Backup("inst-4", "")
		if err != nil {
			t.Fatal(err)
		}
		last = rec
		time.Sleep(5 * time.Millisecond)
	}

	removed, err := s.Prune("inst-4", 5)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	records, err := s.List("inst-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 remaining, got %d", len(records))
	}
	if records[0].Filename != last.Filename {
		t.Fatalf("newest bundle was pruned: %s", records[0].Filename)
	}
}

func TestBootstrapRestoresStoredInstances(t *testing.T) {
	s := newTestService(t)
	dirA := seedCredentials(t, s, "acme", "inst-a")
	dirB := seedCredentials(t, s, "", "inst-b")
	if _, err := s.Backup("inst-a", "acme"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Backup("inst-b", ""); err != nil {
		t.Fatal(err)
	}

	ids, err := s.StoredInstances()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "inst-a" || ids[1] != "inst-b" {
		t.Fatalf("stored instances: %v", ids)
	}

	// Wipe one instance; the other stays and must not be touched.
	if err := os.RemoveAll(dirA); err != nil {
		t.Fatal(err)
	}

	sc := NewScanner(s, func() []Instance { return nil }, 0)
	res := sc.Bootstrap()
	if res.Checked != 2 || res.Restored != 1 || res.Failed != 0 {
		t.Fatalf("bootstrap results: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dirA, "creds.json")); err != nil {
		t.Fatalf("wiped instance not restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dirB, "creds.json")); err != nil {
		t.Fatalf("intact instance disturbed: %v", err)
	}
}

func TestScannerRestoresMissingDir(t *testing.T) {
	s := newTestService(t)
	dir := seedCredentials(t, s, "acme", "inst-5")
	if _, err := s.Backup("inst-5", "acme"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	sc := NewScanner(s, func() []Instance {
		return []Instance{
			{InstanceID: "inst-5", TenantID: "acme"},
			{InstanceID: "never-backed-up"},
		}
	}, 0)

	restored, err := sc.CheckAndRestore(Instance{InstanceID: "inst-5", TenantID: "acme"})
	if err != nil {
		t.Fatalf("check and restore: %v", err)
	}
	if !restored {
		t.Fatal("expected restore to run")
	}
	if _, err := os.Stat(filepath.Join(dir, "creds.json")); err != nil {
		t.Fatalf("credentials not restored: %v", err)
	}

	// Present dir and absent bundle are both quiet no-ops.
	restored, err = sc.CheckAndRestore(Instance{InstanceID: "inst-5", TenantID: "acme"})
	if err != nil || restored {
		t.Fatalf("expected no-op for present dir, got restored=%v err=%v", restored, err)
	}
	restored, err = sc.CheckAndRestore(Instance{InstanceID: "never-backed-up"})
	if err != nil || restored {
		t.Fatalf("expected no-op without bundle, got restored=%v err=%v", restored, err)
	}
}
