package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cross-signing and backup state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := wire.CrossSigning.Status(cmd.Context())
			if err != nil {
				return err
			}
			ready, err := wire.CrossSigning.Ready(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("Cross-signing:")
			fmt.Printf("  ready:                  %v\n", ready)
			fmt.Printf("  public keys on device:  %v\n", cs.PublicKeysOnDevice)
			fmt.Printf("  private keys cached:    master=%v self-signing=%v user-signing=%v\n",
				cs.PrivateKeysCachedLocally.MasterKey,
				cs.PrivateKeysCachedLocally.SelfSigningKey,
				cs.PrivateKeysCachedLocally.UserSigningKey)
			fmt.Printf("  in secret storage:      %v\n", cs.PrivateKeysInSecretStorage)

			bs := wire.Backup.Status()
			fmt.Println("Key backup:")
			if !bs.Enabled {
				fmt.Println("  disabled")
				return nil
			}
			fmt.Printf("  active version:         %s\n", bs.Version)
			fmt.Printf("  trusted:                %v\n", bs.Trust.Trusted)
			fmt.Printf("  matches cached key:     %v\n", bs.Trust.MatchesDecryptionKey)
			return nil
		},
	}
}
