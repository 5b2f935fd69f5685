package cli

import (
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chunk service sessions",
	}

	var owner string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a pending session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient()
			if err != nil {
				return err
			}
			if owner == "" {
				owner = a.owner()
			}
			s, err := client.CreateSession(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "Owning principal (default from client config)")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient()
			if err != nil {
				return err
			}
			s, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}
