package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/client"
	"github.com/photosync-io/photosync/pkg/client/crypto"
)

var (
	backupServer   string
	backupEmail    string
	backupPassword string
	backupDevice   string
)

var backupCmd = &cobra.Command{
	Use:   "backup [paths...]",
	Short: "Encrypt and upload files to a PhotoSync server",
	Long: `Back up files or directories to a server's StealthCloud store.

Files are chunked and encrypted locally; the server only ever receives
ciphertext. Before uploading, the account's manifests are fetched and
decrypted to skip files that are already backed up, including renamed
copies and platform-decorated duplicates.

The password is read from PHOTOSYNC_PASSWORD when --password is not
given, so it stays out of shell history.

Examples:
  photosync backup --server https://backup.example.com --email me@example.com ~/Pictures
  PHOTOSYNC_PASSWORD=... photosync backup --server http://localhost:3000 --email me@example.com photo.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupServer, "server", "", "Server base URL (required)")
	backupCmd.Flags().StringVar(&backupEmail, "email", "", "Account email (required)")
	backupCmd.Flags().StringVar(&backupPassword, "password", "", "Account password (default: PHOTOSYNC_PASSWORD)")
	backupCmd.Flags().StringVar(&backupDevice, "device-name", "cli", "Device name shown in the account")
	_ = backupCmd.MarkFlagRequired("server")
	_ = backupCmd.MarkFlagRequired("email")
}

func runBackup(cmd *cobra.Command, args []string) error {
	logger.InitWithWriter(os.Stderr, "INFO", "text")

	password := backupPassword
	if password == "" {
		password = os.Getenv("PHOTOSYNC_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no password given; use --password or PHOTOSYNC_PASSWORD")
	}

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("nothing to back up")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := client.NewAPI(backupServer)
	if err := api.Login(ctx, backupEmail, password, backupDevice); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	uploader := client.NewUploader(api, crypto.MasterKey(backupEmail, password))
	fmt.Printf("Building dedup index from server manifests...\n")
	if err := uploader.BuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to build dedup index: %w", err)
	}

	results, err := uploader.UploadAll(ctx, paths)
	if err != nil {
		return err
	}

	var uploaded, skipped int
	var bytes int64
	for _, res := range results {
		if res.Skipped {
			skipped++
			continue
		}
		uploaded++
		bytes += res.Bytes
	}
	fmt.Printf("Done: %d uploaded (%d bytes on the wire), %d skipped as duplicates\n",
		uploaded, bytes, skipped)
	return nil
}

// collectFiles expands directories recursively, skipping dotfiles.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != arg && len(name) > 1 && name[0] == '.' {
					return filepath.SkipDir
				}
				return nil
			}
			if name[0] == '.' {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}
