package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"apkforge/cli/api"
)

var (
	apiURL string
	client *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "apkforge",
	Short: "Build branded Android APKs from the terminal",
	Long: `apkforge drives an apkforge server: start single or batch APK builds,
follow their progress live, fetch the artifacts and manage the cleanup queue.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("APKFORGE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:3001"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "apkforge API URL")
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
