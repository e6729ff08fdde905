package cli

import (
	"encoding/json"
	"fmt"

	"github.com/auxilia-ai/auxilia/internal/version"

	"github.com/spf13/cobra"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			info := version.Get()

			if asJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Println(version.GetVersion())
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print version information as JSON")

	return cmd
}
