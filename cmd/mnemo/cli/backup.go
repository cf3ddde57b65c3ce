package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/mnemo/internal/backup"
)

var (
	backupKind  string
	archiveDays int
	cleanupMax  int64
)

func getBackupManager() *backup.Manager {
	cfg := getConfig()
	protect := []string{cfg.DBPath, cfg.VectorFile, cfg.WALDir}
	return backup.New(cfg.DataDir, cfg.BackupDir, cfg.ArchiveDir, cfg.ArchivePatterns, protect, getObserver())
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage zip snapshots of the data directory",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		snap, err := getBackupManager().Create(backupKind)
		if err != nil {
			fmt.Printf("Failed to create backup: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created %s (%d bytes)\n", snap.Path, snap.Size)
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		snaps, err := getBackupManager().List()
		if err != nil {
			fmt.Printf("Failed to list backups: %v\n", err)
			os.Exit(1)
		}
		if len(snaps) == 0 {
			fmt.Println("No backups found.")
			return
		}
		for _, snap := range snaps {
			fmt.Printf("%s  %s  %d bytes\n", snap.CreatedAt.Format(time.RFC3339), snap.Path, snap.Size)
		}
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [archive]",
	Short: "Extract a snapshot over the data directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := getBackupManager().Restore(args[0]); err != nil {
			fmt.Printf("Failed to restore: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Restore complete.")
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move stale mirror files into the archive tree",
	Run: func(cmd *cobra.Command, args []string) {
		moved, err := getBackupManager().ArchiveOld(time.Duration(archiveDays) * 24 * time.Hour)
		if err != nil {
			fmt.Printf("Failed to archive: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Archived %d file(s)\n", moved)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete oldest files until usage fits the size budget",
	Run: func(cmd *cobra.Command, args []string) {
		maxBytes := cleanupMax
		if maxBytes == 0 {
			maxBytes = getConfig().CleanupMaxBytes
		}
		report, err := getBackupManager().Cleanup(maxBytes)
		if err != nil {
			fmt.Printf("Failed to clean up: %v\n", err)
			os.Exit(1)
		}
		if report.DeletedFiles == 0 {
			fmt.Println("Within budget, nothing deleted.")
			return
		}
		fmt.Printf("Deleted %d file(s), freed %d bytes\n", report.DeletedFiles, report.FreedBytes)
	},
}

func init() {
	RootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	RootCmd.AddCommand(archiveCmd)
	RootCmd.AddCommand(cleanupCmd)

	backupCreateCmd.Flags().StringVarP(&backupKind, "kind", "k", "manual", "Snapshot kind label")
	archiveCmd.Flags().IntVarP(&archiveDays, "days", "d", 30, "Archive files older than this many days")
	cleanupCmd.Flags().Int64Var(&cleanupMax, "max-bytes", 0, "Size budget (default from config)")
}
