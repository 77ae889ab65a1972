package main

import (
	"fmt"
	"io"
	"strings"

	"configcenter/internal/configcenter"

	"github.com/spf13/cobra"
)

type getResult struct {
	Key     string `json:"key" yaml:"key"`
	Group   string `json:"group" yaml:"group"`
	Content string `json:"content" yaml:"content"`
}

func newGetCmd(provider *AppProvider) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the content of a configuration item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			key := args[0]
			content, ok, err := app.Store.Get(key, group)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no configuration %s/%s", groupOrDefault(group), key)
			}
			result := getResult{Key: key, Group: groupOrDefault(group), Content: content}
			return app.Print(result, func(w io.Writer) error {
				_, err := io.WriteString(w, content)
				if err == nil && !strings.HasSuffix(content, "\n") {
					_, err = io.WriteString(w, "\n")
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Group of the item (default \"default\")")

	return cmd
}

func groupOrDefault(group string) string {
	if strings.TrimSpace(group) == "" {
		return configcenter.DefaultGroup
	}
	return group
}
