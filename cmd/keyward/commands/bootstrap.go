package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/domain"
)

func bootstrapCmd() *cobra.Command {
	var authJSON string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create and publish the cross-signing hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var auth json.RawMessage
			if authJSON != "" {
				if !json.Valid([]byte(authJSON)) {
					return fmt.Errorf("--auth is not valid JSON")
				}
				auth = json.RawMessage(authJSON)
			}

			err := wire.CrossSigning.Bootstrap(cmd.Context(), auth)
			var authErr *domain.AuthRequiredError
			if errors.As(err, &authErr) {
				fmt.Println("Server requires additional authentication:")
				fmt.Println(string(authErr.Params))
				fmt.Println("Re-run with --auth once the challenge is satisfied.")
				return err
			}
			if err != nil {
				return err
			}
			fmt.Println("Cross-signing hierarchy ready.")
			return nil
		},
	}
	cmd.Flags().StringVar(&authJSON, "auth", "", "auth dictionary passed through to the server verbatim")
	return cmd
}
