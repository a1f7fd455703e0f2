package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/azrailbeat/crystalbay-sub001/internal/config"
)

// backupPaths holds everything a backup covers: the message database, the
// config file, and the automation rules file.
type backupPaths struct {
	db    string
	cfg   string
	rules string
}

func resolveBackupPaths() backupPaths {
	cfgPath := resolveConfigPath()
	p := backupPaths{cfg: cfgPath}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	p.db = config.ExpandPath(cfg.Storage.DBPath)
	p.rules = config.ExpandPath(cfg.Automation.RulesPath)
	return p
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of gateway data (database + config + rules)",
		Long: `Creates a compressed .tar.gz archive containing the conversation database,
the configuration file, and the automation rules file. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := resolveBackupPaths()

			if outputPath == "" {
				home, _ := os.UserHomeDir()
				backupDir := filepath.Join(home, ".crystalbay", "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("crystalbay-backup-%s.tar.gz", ts))
			}

			files := []string{}

			// Database plus its WAL and SHM sidecars when present.
			if _, err := os.Stat(paths.db); err == nil {
				files = append(files, paths.db)
				for _, suffix := range []string{"-wal", "-shm"} {
					sidecar := paths.db + suffix
					if _, err := os.Stat(sidecar); err == nil {
						files = append(files, sidecar)
					}
				}
			}

			if _, err := os.Stat(paths.cfg); err == nil {
				files = append(files, paths.cfg)
			}
			if paths.rules != "" {
				if _, err := os.Stat(paths.rules); err == nil {
					files = append(files, paths.rules)
				}
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", paths.db, paths.cfg)
			}

			if err := writeArchive(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				info, _ := os.Stat(f)
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.crystalbay/backups/crystalbay-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore gateway data from a backup archive",
		Long: `Restores the conversation database, configuration file, and automation
rules from a .tar.gz backup archive created by 'crystalbay backup'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: crystalbay restore <file.tar.gz>")
			}

			paths := resolveBackupPaths()

			// Safety: warn before overwriting
			if !force {
				existing := false
				for _, p := range []string{paths.db, paths.cfg, paths.rules} {
					if p == "" {
						continue
					}
					if _, err := os.Stat(p); err == nil {
						existing = true
					}
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", paths.db)
					fmt.Printf("  Config:   %s\n", paths.cfg)
					if paths.rules != "" {
						fmt.Printf("  Rules:    %s\n", paths.rules)
					}
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := restoreArchive(inputPath, paths)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// writeArchive packs the given files into a gzipped tar. Entries are stored
// under their base names only, so the archive restores on any machine layout.
func writeArchive(outputPath string, files []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, path := range files {
		if err := archiveFile(tw, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}

	// The tar stream must flush before the gzip stream closes.
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func archiveFile(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

// restoreArchive extracts backup entries to their live locations.
func restoreArchive(archivePath string, paths backupPaths) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		// Map archive entries back to their live paths by filename.
		var targetPath string
		baseName := filepath.Base(header.Name)
		switch {
		case baseName == "config.json":
			targetPath = paths.cfg
		case baseName == "rules.yaml" || baseName == "rules.yml":
			targetPath = paths.rules
			if targetPath == "" {
				targetPath = filepath.Join(filepath.Dir(paths.cfg), baseName)
			}
		case strings.HasSuffix(baseName, ".db"):
			targetPath = paths.db
		case strings.HasSuffix(baseName, ".db-wal"):
			targetPath = paths.db + "-wal"
		case strings.HasSuffix(baseName, ".db-shm"):
			targetPath = paths.db + "-shm"
		default:
			// Unknown file, restore next to the config.
			targetPath = filepath.Join(filepath.Dir(paths.cfg), baseName)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}

		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	size := float64(n)
	units := []string{"KB", "MB", "GB", "TB"}
	for i, unit := range units {
		size /= 1024
		if size < 1024 || i == len(units)-1 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
	}
	return fmt.Sprintf("%d B", n)
}
