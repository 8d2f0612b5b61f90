package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"apkforge/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and server version",
	Run: func(cmd *cobra.Command, args []string) {
		logo := lipgloss.NewStyle().
			Bold(true).
			Foreground(style.Primary).
			Render(`
  ┌─┐┌─┐┬┌─┌─┐┌─┐┬─┐┌─┐┌─┐
  ├─┤├─┘├┴┐├┤ │ │├┬┘│ ┬├┤
  ┴ ┴┴  ┴ ┴└  └─┘┴└─└─┘└─┘`)

		server, err := client.Version()
		if err != nil {
			server = "unreachable"
		}

		fmt.Println(logo)
		fmt.Println()
		fmt.Printf("  %s %s\n", style.Key.Render("Client"), style.Val.Render(Version))
		fmt.Printf("  %s %s\n", style.Key.Render("Server"), style.Val.Render(server))
		fmt.Printf("  %s %s\n", style.Key.Render("API"), style.Val.Render(apiURL))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
