package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"apkforge/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check health of the builder and its backing services",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach apkforge API at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("⚡ APKFORGE HEALTH"))
	fmt.Println()

	allUp := true
	for _, svc := range h.Services {
		var label string
		switch svc.Status {
		case "up":
			label = style.Healthy.Render("up")
		case "down":
			label = style.Unhealthy.Render("down")
			allUp = false
		default:
			label = style.Warning.Render(svc.Status)
		}

		fmt.Printf("  %s  %-14s %s  %s\n", style.ServiceDot(svc.Status), style.Bold.Render(padRight(svc.Name, 10)), label, style.DimText.Render(svc.Details))
	}

	fmt.Println()

	if allUp {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down, run `apkforge validate` for details"))
	}

	return nil
}
