package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type removeResult struct {
	Key     string `json:"key" yaml:"key"`
	Group   string `json:"group" yaml:"group"`
	Removed bool   `json:"removed" yaml:"removed"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}

func newRemoveCmd(provider *AppProvider) *cobra.Command {
	var (
		group  string
		strict bool
	)

	cmd := &cobra.Command{
		Use:     "remove <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a configuration item",
		Long: `Remove deletes <root>/<group>/<key>. A group directory left empty is pruned,
except for the default group. Removing a missing item is not an error unless
--strict is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			key := args[0]
			content, removed, err := app.Store.Remove(key, group)
			if err != nil {
				return err
			}
			if !removed && strict {
				return fmt.Errorf("no configuration %s/%s", groupOrDefault(group), key)
			}
			result := removeResult{Key: key, Group: groupOrDefault(group), Removed: removed, Content: content}
			return app.Print(result, func(w io.Writer) error {
				if !removed {
					_, err := fmt.Fprintf(w, "Nothing to remove at %s/%s\n", result.Group, result.Key)
					return err
				}
				_, err := fmt.Fprintf(w, "Removed %s/%s\n", result.Group, result.Key)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Group of the item (default \"default\")")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the item does not exist")

	return cmd
}
