// Package layout resolves the on-disk data tree and scopes every path to
// its owning tenant.
//
// The tree under one data root:
//
//	<root>/
//	  uploads/<device_uuid>/<filename>          classic plaintext objects
//	  cloud/users/<tenant_key>/chunks/<64-hex>  ciphertext chunks
//	  cloud/users/<tenant_key>/manifests/<id>.json
//	  capacity/photosync-capacity.json          worker-written report
//	  db/backup.db                              SQLite index
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a resolved path would leave its tenant
// directory. Handlers map it to 403.
var ErrPathEscape = errors.New("path escapes tenant directory")

// CapacityFileName is the report the capacity worker rewrites.
const CapacityFileName = "photosync-capacity.json"

// Overrides carries explicit path configuration. Empty fields fall back
// to the resolution chain in Resolve.
type Overrides struct {
	DataDir          string // PHOTOSYNC_DATA_DIR
	UploadDir        string // UPLOAD_DIR; its parent becomes the root
	CloudDir         string // CLOUD_DIR
	DBPath           string // DB_PATH
	CapacityJSONPath string // CAPACITY_JSON_PATH
}

// Layout holds the resolved directories of one data root.
type Layout struct {
	Root             string
	UploadsDir       string
	CloudDir         string
	CapacityDir      string
	DBPath           string
	CapacityJSONPath string

	migrations tenantLocks
}

// Resolve picks the data root from the first satisfied rule: explicit data
// dir, parent of an explicit upload dir, a conventional /data directory
// when present, else a per-user home path.
func Resolve(o Overrides) (*Layout, error) {
	root := o.DataDir
	switch {
	case root != "":
	case o.UploadDir != "":
		root = filepath.Dir(o.UploadDir)
	default:
		if info, err := os.Stat("/data"); err == nil && info.IsDir() {
			root = "/data"
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("cannot determine data root: %w", err)
			}
			root = filepath.Join(home, ".photosync")
		}
	}

	l := &Layout{
		Root:        root,
		UploadsDir:  filepath.Join(root, "uploads"),
		CloudDir:    filepath.Join(root, "cloud"),
		CapacityDir: filepath.Join(root, "capacity"),
		DBPath:      filepath.Join(root, "db", "backup.db"),
	}
	if o.UploadDir != "" {
		l.UploadsDir = o.UploadDir
	}
	if o.CloudDir != "" {
		l.CloudDir = o.CloudDir
	}
	if o.DBPath != "" {
		l.DBPath = o.DBPath
	}
	l.CapacityJSONPath = filepath.Join(l.CapacityDir, CapacityFileName)
	if o.CapacityJSONPath != "" {
		l.CapacityJSONPath = o.CapacityJSONPath
	}
	return l, nil
}

// EnsureDirs creates every subdirectory on boot if missing.
func (l *Layout) EnsureDirs() error {
	dirs := []string{
		l.Root,
		l.UploadsDir,
		l.CloudDir,
		l.CloudUsersDir(),
		l.CapacityDir,
		filepath.Dir(l.DBPath),
		filepath.Dir(l.CapacityJSONPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// CloudUsersDir is the parent of every StealthCloud tenant directory.
func (l *Layout) CloudUsersDir() string {
	return filepath.Join(l.CloudDir, "users")
}

// TenantDir returns the StealthCloud directory for a tenant key.
func (l *Layout) TenantDir(key string) string {
	return filepath.Join(l.CloudUsersDir(), key)
}

// TenantChunksDir returns the chunk directory for a tenant key.
func (l *Layout) TenantChunksDir(key string) string {
	return filepath.Join(l.TenantDir(key), "chunks")
}

// TenantManifestsDir returns the manifest directory for a tenant key.
func (l *Layout) TenantManifestsDir(key string) string {
	return filepath.Join(l.TenantDir(key), "manifests")
}

// DeviceUploadDir returns the classic upload directory for a device.
func (l *Layout) DeviceUploadDir(deviceUUID string) string {
	return filepath.Join(l.UploadsDir, SanitizeKey(deviceUUID))
}

// SecureJoin joins elements under parent and verifies the result stays
// within parent. Any path assembled from client-supplied identifiers must
// go through this before I/O.
func SecureJoin(parent string, elem ...string) (string, error) {
	joined := filepath.Join(append([]string{parent}, elem...)...)
	cleanParent := filepath.Clean(parent)
	cleanJoined := filepath.Clean(joined)
	if cleanJoined != cleanParent &&
		!strings.HasPrefix(cleanJoined, cleanParent+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return cleanJoined, nil
}
