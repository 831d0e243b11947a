package main

import (
	"fmt"

	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/utils"
	"github.com/spf13/cobra"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the signing identity",
	}
	cmd.AddCommand(newIdentityGenerateCmd(), newIdentityShowCmd())
	return cmd
}

func newIdentityGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <name>",
		Short: "Create a new keypair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			force, _ := cmd.Flags().GetBool("force")

			path, err := utils.ResolvePath(out)
			if err != nil {
				return err
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", path)
			}

			kp, err := identity.Generate(args[0])
			if err != nil {
				return err
			}
			if err := kp.Save(path); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green.Render(kp.Address))
			fmt.Fprintln(cmd.OutOrStdout(), gray.Render("saved to "+path))
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", config.DefaultIdentityPath, "key file to write")
	cmd.Flags().BoolP("force", "f", false, "overwrite an existing key file")
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the address of a key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("identity")
			path, err := utils.ResolvePath(path)
			if err != nil {
				return err
			}
			kp, err := identity.Load(path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), kp.Address)
			return err
		},
	}
	cmd.Flags().StringP("identity", "i", config.DefaultIdentityPath, "key file to read")
	return cmd
}
