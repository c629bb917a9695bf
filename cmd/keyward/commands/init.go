package commands

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/domain"
)

func initCmd() *cobra.Command {
	var userID, deviceID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the local device identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || deviceID == "" {
				return fmt.Errorf("--user and --device are required")
			}
			if _, ok, err := wire.Store.Account(); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("account already initialised")
			}

			signPriv, signPub, err := wire.Engine.GenerateSigningKey()
			if err != nil {
				return err
			}
			identPriv, identPub, err := wire.Engine.GenerateBackupKey()
			if err != nil {
				return err
			}

			account := domain.Account{
				UserID:          domain.UserID(userID),
				DeviceID:        domain.DeviceID(deviceID),
				IdentityKey:     identPub,
				IdentityKeyPriv: base64.RawStdEncoding.EncodeToString(identPriv[:]),
				SigningKey:      signPub,
				SigningKeyPriv:  signPriv,
			}
			if err := wire.Store.SaveAccount(account); err != nil {
				return err
			}
			if err := wire.Store.SaveDevice(domain.DeviceIdentity{
				UserID:      account.UserID,
				DeviceID:    account.DeviceID,
				IdentityKey: account.IdentityKey,
				SigningKey:  account.SigningKey,
				Signatures:  domain.Signatures{},
				Verified:    true,
			}); err != nil {
				return err
			}
			fmt.Printf("Device identity created.\nSigning key: %s\n", signPub)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "account user id")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id")
	return cmd
}
