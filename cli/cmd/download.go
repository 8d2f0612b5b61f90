package cmd

import (
	"fmt"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"apkforge/cli/style"
)

var downloadCmd = &cobra.Command{
	Use:     "download <name|download-url>",
	Short:   "Fetch a built APK",
	Aliases: []string{"dl", "get"},
	Args:    cobra.ExactArgs(1),
	RunE:    runDownload,
}

var downloadDir string

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "out", "o", ".", "directory to write the APK to")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	// accept the downloadUrl reported by status as well as a bare name
	name := path.Base(strings.TrimRight(args[0], "/"))
	dest, n, err := client.Download(cmd.Context(), name, downloadDir)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	fmt.Printf("%s %s %s\n", style.Healthy.Render("✓"), dest, style.DimText.Render(humanize.Bytes(uint64(n))))
	return nil
}
