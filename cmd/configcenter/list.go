package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newKeysCmd(provider *AppProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [group]",
		Short: "List the keys of a group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			group := ""
			if len(args) == 1 {
				group = args[0]
			}
			keys, err := app.Store.Keys(group)
			if err != nil {
				return err
			}
			return app.Print(keys, printLines(keys))
		},
	}
}

func newGroupsCmd(provider *AppProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the groups under the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			groups, err := app.Store.Groups()
			if err != nil {
				return err
			}
			return app.Print(groups, printLines(groups))
		},
	}
}

func newListCmd(provider *AppProvider) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configuration items with their content",
		Long: `List prints every item of --group, or of all groups when none is given.
Text output shows one item per line with the first line of its content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			items, err := app.Store.Items(group)
			if err != nil {
				return err
			}
			return app.Print(items, func(w io.Writer) error {
				for _, item := range items {
					if _, err := fmt.Fprintf(w, "%s/%s\t%s\n", item.Group, item.Key, firstLine(item.Content)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Only list this group")

	return cmd
}

func printLines(lines []string) func(io.Writer) error {
	return func(w io.Writer) error {
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	}
}

func firstLine(content string) string {
	line, _, cut := strings.Cut(content, "\n")
	if cut {
		return line + " ..."
	}
	return line
}
