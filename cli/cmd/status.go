package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"apkforge/api/model"
	"apkforge/cli/style"
)

var statusCmd = &cobra.Command{
	Use:     "status [batch-id]",
	Short:   "Show the current build, a batch, or all batches",
	Aliases: []string{"s"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStatus,
}

var statusLogLines int
var statusBatches bool

func init() {
	statusCmd.Flags().IntVarP(&statusLogLines, "logs", "n", 10, "number of log lines to show")
	statusCmd.Flags().BoolVar(&statusBatches, "batches", false, "list all known batches")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch {
	case statusBatches:
		return showBatches()
	case len(args) == 1:
		return showBatch(args[0])
	default:
		return showBuild()
	}
}

func showBuild() error {
	st, err := client.BuildStatus()
	if err != nil {
		return fmt.Errorf("failed to fetch build status: %w", err)
	}

	if st.BuildID == nil {
		fmt.Println(style.DimText.Render("No build has run yet."))
		return nil
	}

	cardStyle := style.CardStyle
	switch {
	case st.Completed && st.Success:
		cardStyle = style.CardHealthy
	case st.Completed:
		cardStyle = style.CardUnhealthy
	}

	var b strings.Builder
	b.WriteString(style.Bold.Render(st.AppName))
	b.WriteString("  ")
	b.WriteString(stateLabel(st.State))
	b.WriteString("\n\n")

	kvLine := func(k, v string) {
		b.WriteString(style.Key.Render(k))
		b.WriteString(style.Val.Render(v))
		b.WriteString("\n")
	}
	kvLine("Build", *st.BuildID)
	kvLine("Progress", fmt.Sprintf("%d%%", st.Progress))
	if st.StartedAt != nil {
		kvLine("Started", st.StartedAt.Local().Format("15:04:05"))
	}
	if st.FinishedAt != nil && st.StartedAt != nil {
		kvLine("Took", st.FinishedAt.Sub(*st.StartedAt).Round(time.Second).String())
	}
	if st.DownloadURL != nil {
		kvLine("Download", *st.DownloadURL)
	}

	if statusLogLines > 0 && len(st.Logs) > 0 {
		b.WriteString("\n")
		b.WriteString(style.TableHeader.Render("  Logs"))
		b.WriteString("\n")
		logs := st.Logs
		if len(logs) > statusLogLines {
			logs = logs[len(logs)-statusLogLines:]
		}
		for _, l := range logs {
			b.WriteString(renderLog(l))
			b.WriteString("\n")
		}
	}

	fmt.Println(cardStyle.Render(b.String()))
	return nil
}

func showBatch(id string) error {
	st, err := client.BatchStatus(id)
	if err != nil {
		return fmt.Errorf("failed to fetch batch: %w", err)
	}
	fmt.Println(renderBatch(st))
	return nil
}

func renderBatch(st *model.BatchStatus) string {
	cardStyle := style.CardStyle
	if st.AllCompleted {
		cardStyle = style.CardHealthy
		if len(st.Failed) > 0 {
			cardStyle = style.CardUnhealthy
		}
	}

	var b strings.Builder
	b.WriteString(style.Bold.Render(st.AppName))
	b.WriteString("  ")
	b.WriteString(style.DimText.Render(st.ID))
	b.WriteString("\n\n")
	b.WriteString(style.Key.Render("Progress"))
	b.WriteString(style.Val.Render(fmt.Sprintf("%d%%  (%d/%d)", st.Progress, st.Finished(), st.TotalBuilds)))
	b.WriteString("\n")
	if st.CurrentBuild != nil {
		b.WriteString(style.Key.Render("Building"))
		b.WriteString(style.StepRunning.Render(fmt.Sprintf("#%d %s %d%%", st.CurrentBuild.Index+1, st.CurrentBuild.APKName, st.CurrentBuildProgress)))
		b.WriteString("\n")
	}

	if len(st.Completed) > 0 || len(st.Failed) > 0 {
		b.WriteString("\n")
		b.WriteString(style.TableHeader.Render("  Results"))
		b.WriteString("\n")
		for _, o := range st.Completed {
			b.WriteString(fmt.Sprintf("  %s %s  %s\n", style.DotHealthy, padRight(o.APKName, 32), style.DimText.Render(o.DownloadURL)))
		}
		for _, o := range st.Failed {
			b.WriteString(fmt.Sprintf("  %s %s  %s\n", style.DotUnhealthy, padRight(o.APKName, 32), style.StepFailed.Render(o.Error)))
		}
	}
	if len(st.Queue) > 0 {
		b.WriteString(style.DimText.Render(fmt.Sprintf("\n  %d waiting in queue", len(st.Queue))))
	}
	return cardStyle.Render(b.String())
}

func showBatches() error {
	list, err := client.ListBatches()
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}
	if len(list) == 0 {
		fmt.Println(style.DimText.Render("No batches submitted."))
		return nil
	}

	fmt.Println(style.Banner.Render("⚡ APKFORGE") + style.Subtitle.Render(fmt.Sprintf("  %d batch(es)", len(list))))
	fmt.Println()
	header := fmt.Sprintf("  %-2s  %-38s %-20s %-10s %s", "", "BATCH", "APP", "DONE", "STARTED")
	fmt.Println(style.TableHeader.Render(header))
	for _, s := range list {
		dot := style.DotWarning
		if s.AllCompleted {
			dot = style.StatusDot(s.Failed == 0)
		}
		done := fmt.Sprintf("%d/%d", s.Completed+s.Failed, s.TotalBuilds)
		fmt.Printf("  %s  %s %s %s %s\n",
			dot,
			lipgloss.NewStyle().Foreground(style.Cyan).Render(padRight(s.ID, 38)),
			style.Bold.Render(padRight(s.AppName, 20)),
			padRight(done, 10),
			style.DimText.Render(s.StartTime.Local().Format("Jan 2 15:04")),
		)
	}
	fmt.Println()
	return nil
}

func stateLabel(s model.BuildState) string {
	switch s {
	case model.StateSucceeded:
		return style.Healthy.Render("● succeeded")
	case model.StateFailed:
		return style.Unhealthy.Render("● failed")
	case model.StateConfiguring, model.StateRunning:
		return style.StepRunning.Render("● " + string(s))
	default:
		return style.DimText.Render("● " + string(s))
	}
}

func renderLog(l model.LogEntry) string {
	ts := style.DimText.Render("[" + l.Timestamp + "]")
	if l.Kind == model.LogError {
		return ts + " " + style.Warning.Render(l.Message)
	}
	return ts + " " + l.Message
}
