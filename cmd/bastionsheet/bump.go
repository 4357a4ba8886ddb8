package main

import (
	"github.com/spf13/cobra"

	"github.com/Corphon/BastionSheet/internal/release"
)

func bumpVersionCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "bump-version",
		Short: "将 version.txt 中的版本写入 system.json 和 package.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := release.ReadVersion(root)
			if err != nil {
				return err
			}
			cmd.Printf("Updating to version %s...\n", version)

			result, err := release.BumpVersion(root)
			if err != nil {
				return err
			}
			for _, file := range result.Files {
				cmd.Printf("Updated %s (was %q)\n", file, result.Previous[file])
			}
			cmd.Printf("Version updated to %s successfully!\n", result.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "包含 version.txt 的项目目录")
	return cmd
}
