package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/domain"
	backupsvc "keyward/internal/services/backup"
)

func restoreCmd() *cobra.Command {
	var (
		recoveryKey string
		room        string
		session     string
		cacheKey    bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Recover sessions from the server-side key backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recoveryKey == "" {
				return fmt.Errorf("--recovery-key is required")
			}

			info, err := wire.Server.GetBackupInfo(cmd.Context())
			if err != nil {
				return err
			}

			opts := &backupsvc.RestoreOpts{
				CacheKey: cacheKey,
				Progress: func(p domain.RestoreProgress) {
					fmt.Printf("%s: %d/%d (failures: %d)\n",
						p.Stage, p.Successes, p.Total, p.Failures)
				},
			}
			result, err := wire.Backup.RestoreWithRecoveryKey(cmd.Context(),
				recoveryKey, domain.RoomID(room), domain.SessionID(session), info, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d of %d sessions.\n", result.Imported, result.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&recoveryKey, "recovery-key", "", "recovery key for the backup")
	cmd.Flags().StringVar(&room, "room", "", "restore a single room (requires --session)")
	cmd.Flags().StringVar(&session, "session", "", "restore a single session (requires --room)")
	cmd.Flags().BoolVar(&cacheKey, "cache-key", false, "cache the decryption key after a successful restore")
	return cmd
}
