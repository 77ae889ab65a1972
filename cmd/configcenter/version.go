package main

import (
	"fmt"
	"io"

	"configcenter/internal/version"

	"github.com/spf13/cobra"
)

func newVersionCmd(provider *AppProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetVersionInfo()
			format, err := parseOutputFormat(provider.Output)
			if err != nil {
				return err
			}
			app := &App{Out: cmd.OutOrStdout(), Output: format}
			return app.Print(info, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "configcenter %s\n", versionLine(info))
				return err
			})
		},
	}
}

func versionLine(info version.VersionInfo) string {
	line := info.Version
	if info.GitCommit != "" {
		line += " (" + info.GitCommit + ")"
	}
	if info.Built != "" {
		line += " built " + info.Built
	}
	return line
}
