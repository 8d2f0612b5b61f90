package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"apkforge/api/model"
	"apkforge/cli/api"
	"apkforge/cli/style"
)

var batchCmd = &cobra.Command{
	Use:   "batch <app-name> <icon> [url...]",
	Short: "Queue one build per URL, sharing a name and an icon",
	Long: `Queue one build per URL. URLs come from the arguments and/or --file,
one per line; a line may carry a tracking id after a comma:

  https://example.com/?a=1,123456789`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBatch,
}

var (
	batchPrefix string
	batchFile   string
	batchWatch  bool
)

func init() {
	batchCmd.Flags().StringVar(&batchPrefix, "prefix", "", "name each artifact <prefix><fb_pixel_id>.apk")
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "read URLs from a file (- for stdin)")
	batchCmd.Flags().BoolVarP(&batchWatch, "watch", "w", true, "follow the batch until it finishes")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	targets := make([]api.BatchTarget, 0, len(args)-2)
	for _, a := range args[2:] {
		targets = append(targets, parseTargetLine(a))
	}
	if batchFile != "" {
		var r io.Reader = os.Stdin
		if batchFile != "-" {
			f, err := os.Open(batchFile)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		more, err := readTargets(r)
		if err != nil {
			return err
		}
		targets = append(targets, more...)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no URLs given")
	}

	started, err := client.StartBatch(api.BatchParams{
		AppName:   args[0],
		IconPath:  args[1],
		APKPrefix: batchPrefix,
		Targets:   targets,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", style.Healthy.Render("✓ "+started.Message), style.DimText.Render(started.BatchID))

	if !batchWatch {
		return nil
	}
	final, err := tea.NewProgram(newBatchModel(started.BatchID)).Run()
	if err != nil {
		return err
	}
	bm := final.(batchModel)
	if bm.err != nil {
		return bm.err
	}
	if bm.status != nil && len(bm.status.Failed) > 0 {
		return fmt.Errorf("%d of %d build(s) failed", len(bm.status.Failed), bm.status.TotalBuilds)
	}
	return nil
}

func parseTargetLine(line string) api.BatchTarget {
	u, pixel, _ := strings.Cut(strings.TrimSpace(line), ",")
	return api.BatchTarget{URL: strings.TrimSpace(u), FBPixelID: strings.TrimSpace(pixel)}
}

func readTargets(r io.Reader) ([]api.BatchTarget, error) {
	var targets []api.BatchTarget
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, parseTargetLine(line))
	}
	return targets, sc.Err()
}

// --- Model ---

const batchPollInterval = time.Second

type batchPolled struct {
	status *model.BatchStatus
	err    error
}

type batchModel struct {
	id     string
	bar    progress.Model
	status *model.BatchStatus
	err    error
}

func newBatchModel(id string) batchModel {
	return batchModel{
		id:  id,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m batchModel) Init() tea.Cmd {
	return pollBatch(m.id, 0)
}

func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case batchPolled:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.status = msg.status
		if m.status.AllCompleted {
			return m, tea.Quit
		}
		return m, pollBatch(m.id, batchPollInterval)
	}
	return m, nil
}

func (m batchModel) View() string {
	if m.status == nil {
		return style.DimText.Render("Waiting for batch status...") + "\n"
	}
	var b strings.Builder
	b.WriteString("  " + m.bar.ViewAs(float64(m.status.Progress)/100))
	b.WriteString("\n")
	b.WriteString(renderBatch(m.status))
	b.WriteString("\n")
	return b.String()
}

func pollBatch(id string, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		st, err := client.BatchStatus(id)
		return batchPolled{status: st, err: err}
	})
}
