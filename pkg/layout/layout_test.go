package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc-123_DEF", "abc-123_DEF"},
		{"../../etc/passwd", "etcpasswd"},
		{"a b\tc", "abc"},
		{"", ""},
		{"....", ""},
		{"550e8400-e29b-41d4-a716-446655440000", "550e8400-e29b-41d4-a716-446655440000"},
	}
	for _, tt := range tests {
		if got := SanitizeKey(tt.input); got != tt.want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeKey(string(long)); len(got) != 128 {
		t.Errorf("SanitizeKey long input: len = %d, want 128", len(got))
	}
}

func TestTenantKey(t *testing.T) {
	tests := []struct {
		device string
		user   string
		id     uint
		want   string
	}{
		{"dev-uuid", "user-uuid", 7, "dev-uuid"},
		{"", "user-uuid", 7, "user-uuid"},
		{"", "", 7, "7"},
		{"///", "", 42, "42"},
	}
	for _, tt := range tests {
		if got := TenantKey(tt.device, tt.user, tt.id); got != tt.want {
			t.Errorf("TenantKey(%q, %q, %d) = %q, want %q", tt.device, tt.user, tt.id, got, tt.want)
		}
	}
}

func TestCandidateKeys(t *testing.T) {
	keys := CandidateKeys([]string{"dev1", "dev2", "dev1"}, "uuid-x", 5)
	want := []string{"dev1", "dev2", "uuid-x", "5"}
	if len(keys) != len(want) {
		t.Fatalf("CandidateKeys returned %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("CandidateKeys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestSecureJoin(t *testing.T) {
	parent := "/data/cloud/users/tenant"

	if _, err := SecureJoin(parent, "chunks", "abc"); err != nil {
		t.Errorf("SecureJoin valid path: unexpected error %v", err)
	}

	escapes := [][]string{
		{".."},
		{"..", "other"},
		{"chunks", "..", "..", "other"},
		{"/etc/passwd"},
	}
	for _, elems := range escapes {
		if _, err := SecureJoin(parent, elems...); err != ErrPathEscape {
			t.Errorf("SecureJoin(%v) = %v, want ErrPathEscape", elems, err)
		}
	}
}

func TestResolveExplicitRoot(t *testing.T) {
	dir := t.TempDir()
	l, err := Resolve(Overrides{DataDir: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Root != dir {
		t.Errorf("Root = %q, want %q", l.Root, dir)
	}
	if l.UploadsDir != filepath.Join(dir, "uploads") {
		t.Errorf("UploadsDir = %q", l.UploadsDir)
	}
	if l.DBPath != filepath.Join(dir, "db", "backup.db") {
		t.Errorf("DBPath = %q", l.DBPath)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, p := range []string{l.UploadsDir, l.CloudUsersDir(), l.CapacityDir} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected directory %s to exist: %v", p, err)
		}
	}
}

func TestResolveUploadDirParent(t *testing.T) {
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	l, err := Resolve(Overrides{UploadDir: uploads})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l.Root != dir {
		t.Errorf("Root = %q, want %q", l.Root, dir)
	}
	if l.UploadsDir != uploads {
		t.Errorf("UploadsDir = %q, want %q", l.UploadsDir, uploads)
	}
}

func TestLegacyMigration(t *testing.T) {
	dir := t.TempDir()
	l, err := Resolve(Overrides{DataDir: dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	// Seed a legacy tenant dir keyed by user uuid with one chunk,
	// plus a conflicting entry that must not be overwritten.
	legacy := "legacy-user-uuid"
	current := "device-uuid"
	if err := os.MkdirAll(filepath.Join(l.TenantChunksDir(legacy)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(l.TenantChunksDir(legacy), "aaaa"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(l.TenantChunksDir(current), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(l.TenantChunksDir(current), "bbbb"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(l.TenantChunksDir(legacy), "bbbb"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.EnsureTenantDirs(current, []string{legacy}); err != nil {
		t.Fatalf("EnsureTenantDirs: %v", err)
	}

	migrated, err := os.ReadFile(filepath.Join(l.TenantChunksDir(current), "aaaa"))
	if err != nil {
		t.Fatalf("migrated chunk missing: %v", err)
	}
	if string(migrated) != "old" {
		t.Errorf("migrated chunk content = %q", migrated)
	}

	kept, err := os.ReadFile(filepath.Join(l.TenantChunksDir(current), "bbbb"))
	if err != nil {
		t.Fatal(err)
	}
	if string(kept) != "new" {
		t.Errorf("conflicting destination was overwritten: %q", kept)
	}
}
