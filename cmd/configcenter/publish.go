package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type publishResult struct {
	Key   string `json:"key" yaml:"key"`
	Group string `json:"group" yaml:"group"`
	Bytes int    `json:"bytes" yaml:"bytes"`
}

func newPublishCmd(provider *AppProvider) *cobra.Command {
	var (
		group    string
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "publish <key> [content]",
		Short: "Create or replace a configuration item",
		Long: `Publish writes content to <root>/<group>/<key>, replacing any previous
content atomically. Content comes from the second argument, from --file, or
from stdin when --file is "-".

Examples:
  configcenter publish db.url postgres://localhost/app
  configcenter publish app.yaml --group prod --file app.yaml
  cat flags.json | configcenter publish flags --file -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get()
			if err != nil {
				return err
			}
			content, err := publishContent(cmd, args, fromFile)
			if err != nil {
				return err
			}
			key := args[0]
			if err := app.Store.Publish(key, group, content); err != nil {
				return err
			}
			result := publishResult{Key: key, Group: groupOrDefault(group), Bytes: len(content)}
			return app.Print(result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Published %s/%s (%d bytes)\n", result.Group, result.Key, result.Bytes)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Group of the item (default \"default\")")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read content from a file, or stdin with -")

	return cmd
}

func publishContent(cmd *cobra.Command, args []string, fromFile string) (string, error) {
	switch {
	case len(args) == 2 && fromFile != "":
		return "", fmt.Errorf("give content either as an argument or with --file, not both")
	case len(args) == 2:
		return args[1], nil
	case fromFile == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case fromFile != "":
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", fromFile, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("no content given (pass it as an argument or use --file)")
	}
}
