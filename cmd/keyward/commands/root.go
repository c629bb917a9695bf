package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"keyward/internal/app"
)

var (
	home        string
	serverURL   string
	accessToken string
	verbose     bool

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:           "keyward",
		Short:         "Trust and key-backup manager for an E2EE messaging account",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".keyward")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			logger := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			}

			w, err := app.NewWire(app.Config{
				Home:        home,
				ServerURL:   serverURL,
				AccessToken: accessToken,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.keyward)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "homeserver base URL")
	root.PersistentFlags().StringVar(&accessToken, "token", "", "access token")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(), bootstrapCmd(), statusCmd(), backupCmd(), restoreCmd())
	return root.Execute()
}
