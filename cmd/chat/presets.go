package main

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"chat-relay/internal/presets"
)

func newPresetsCmd(file *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage saved system roles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved system roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(*file)
			if err != nil {
				return err
			}
			systems, err := store.List()
			if err != nil {
				return err
			}
			temp, err := store.Temperature()
			if err != nil {
				return err
			}
			table := uitable.New()
			table.MaxColWidth = 60
			table.Wrap = true
			table.AddRow("NAME", "SETTINGS")
			for _, s := range systems {
				table.AddRow(s.Name, s.Settings)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			fmt.Fprintf(cmd.OutOrStdout(), "temperature: %d\n", temp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save NAME SETTINGS",
		Short: "Save a system role, replacing one with the same name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*file)
			if err != nil {
				return err
			}
			if err := store.Save(presets.System{Name: args[0], Settings: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %q\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete SETTINGS",
		Short: "Delete every system role with these settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*file)
			if err != nil {
				return err
			}
			removed, err := store.Delete(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no preset with settings %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	})

	return cmd
}
