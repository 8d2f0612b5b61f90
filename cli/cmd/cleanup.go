package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"apkforge/cli/style"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Show files awaiting deletion",
	Args:  cobra.NoArgs,
	RunE:  runCleanupStatus,
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Delete every expired file now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.ForceCleanup()
		if err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render(fmt.Sprintf("Removed %d file(s), %d still pending", res.Cleaned, res.Remaining)))
		return nil
	},
}

func init() {
	cleanupCmd.AddCommand(cleanupRunCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanupStatus(cmd *cobra.Command, args []string) error {
	st, err := client.CleanupStatus()
	if err != nil {
		return fmt.Errorf("failed to fetch cleanup status: %w", err)
	}
	if st.PendingCount == 0 {
		fmt.Println(style.DimText.Render("Nothing scheduled for deletion."))
		return nil
	}

	fmt.Println(style.Banner.Render("⚡ APKFORGE CLEANUP") + style.Subtitle.Render(fmt.Sprintf("  %d file(s)", st.PendingCount)))
	fmt.Println()
	fmt.Println(style.TableHeader.Render(fmt.Sprintf("  %-40s %-10s %s", "FILE", "SIZE", "EXPIRES IN")))
	for _, f := range st.Files {
		expires := style.Warning.Render("due")
		if f.RemainingMinutes > 0 {
			expires = fmt.Sprintf("%d min", f.RemainingMinutes)
		}
		fmt.Printf("  %s %s %s\n", style.Bold.Render(padRight(f.Name, 40)), padRight(humanize.Bytes(uint64(f.Size)), 10), expires)
	}
	if st.NextCleanup != nil {
		fmt.Println()
		fmt.Println(style.DimText.Render("  next expiry " + humanize.Time(*st.NextCleanup) + " (" + st.NextCleanup.Local().Format(time.Kitchen) + ")"))
	}
	return nil
}
