package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/domain"
)

func backupCmd() *cobra.Command {
	var recoveryKey string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Check the server-side key backup and enable it if trusted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recoveryKey != "" {
				key, err := wire.Engine.DeriveKeyFromRecoveryKey(recoveryKey)
				if err != nil {
					return err
				}
				info, err := wire.Server.GetBackupInfo(cmd.Context())
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				if err == nil {
					if err := wire.Backup.CacheDecryptionKey(key, info.Version); err != nil {
						return err
					}
				}
			}

			status, err := wire.Backup.CheckAndEnable(cmd.Context())
			if err != nil {
				return err
			}
			if !status.Enabled {
				fmt.Println("Backup disabled: no trusted backup on the server.")
				return nil
			}
			fmt.Printf("Backup enabled: version %s (trusted=%v, key match=%v)\n",
				status.Version, status.Trust.Trusted, status.Trust.MatchesDecryptionKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&recoveryKey, "recovery-key", "", "cache the backup decryption key before checking")
	return cmd
}
