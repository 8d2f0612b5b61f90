package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"apkforge/api/model"
	"apkforge/cli/api"
	"apkforge/cli/style"
)

var buildCmd = &cobra.Command{
	Use:   "build <app-name> <url> <icon.png>",
	Short: "Build one APK and follow it until it finishes",
	Args:  cobra.ExactArgs(3),
	RunE:  runBuild,
}

var (
	buildPrefix string
	buildDetach bool
)

func init() {
	buildCmd.Flags().StringVar(&buildPrefix, "prefix", "", "name the artifact <prefix><fb_pixel_id>.apk")
	buildCmd.Flags().BoolVarP(&buildDetach, "detach", "d", false, "start the build and return immediately")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	params := api.BuildParams{
		AppName:   args[0],
		AppURL:    args[1],
		IconPath:  args[2],
		APKPrefix: buildPrefix,
	}

	if buildDetach {
		started, err := client.StartBuild(params)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", style.Healthy.Render("✓ build started"), style.DimText.Render(started.BuildID))
		return nil
	}

	p := tea.NewProgram(newBuildModel(params))
	final, err := p.Run()
	if err != nil {
		return err
	}
	bm := final.(buildModel)
	if bm.failed {
		return fmt.Errorf("build failed")
	}
	return nil
}

// --- Messages ---

type wsEvent struct {
	Type    string          `json:"type"`
	BuildID string          `json:"buildId"`
	BatchID string          `json:"batchId"`
	Payload json.RawMessage `json:"payload"`
}

type buildStarted struct {
	id string
	ch chan tea.Msg
}
type buildLogLine struct{ entry model.LogEntry }
type buildProgress struct{ percent int }
type buildFinished struct{ outcome model.BuildOutcome }
type wsError struct{ err error }

// --- Model ---

const buildLogTail = 8

type buildModel struct {
	params    api.BuildParams
	id        string
	spinner   spinner.Model
	bar       progress.Model
	percent   int
	logs      []model.LogEntry
	status    string // connecting, building, completed, failed
	outcome   model.BuildOutcome
	errMsg    string
	failed    bool
	startTime time.Time
	eventCh   chan tea.Msg
}

func newBuildModel(params api.BuildParams) buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)

	return buildModel{
		params:    params,
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m buildModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		connectAndBuild(m.params),
	)
}

func (m buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case buildStarted:
		m.status = "building"
		m.id = msg.id
		m.eventCh = msg.ch
		return m, waitForEvent(m.eventCh)

	case buildLogLine:
		m.logs = append(m.logs, msg.entry)
		if len(m.logs) > buildLogTail {
			m.logs = m.logs[len(m.logs)-buildLogTail:]
		}
		return m, waitForEvent(m.eventCh)

	case buildProgress:
		if msg.percent > m.percent {
			m.percent = msg.percent
		}
		return m, waitForEvent(m.eventCh)

	case buildFinished:
		m.outcome = msg.outcome
		if msg.outcome.Success {
			m.status = "completed"
			m.percent = 100
		} else {
			m.status = "failed"
			m.errMsg = msg.outcome.Error
			m.failed = true
		}
		return m, tea.Quit

	case wsError:
		m.status = "failed"
		m.errMsg = msg.err.Error()
		m.failed = true
		return m, tea.Quit
	}

	return m, nil
}

func (m buildModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("⚡ APKFORGE BUILD"))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("App"))
	b.WriteString(style.Bold.Render(m.params.AppName))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("URL"))
	b.WriteString(lipgloss.NewStyle().Foreground(style.Cyan).Render(m.params.AppURL))
	b.WriteString("\n\n")

	b.WriteString("  " + m.bar.ViewAs(float64(m.percent)/100))
	b.WriteString("\n\n")
	for _, l := range m.logs {
		b.WriteString("  " + renderLog(l) + "\n")
	}
	b.WriteString("\n")

	elapsed := time.Since(m.startTime).Round(time.Second)

	switch m.status {
	case "connecting":
		b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to API..."))
	case "building":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Building... (%s)", elapsed)))
	case "completed":
		b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ %s built in %s\n  %s", m.outcome.APKName, elapsed, m.outcome.DownloadURL)))
	case "failed":
		msg := "Build failed"
		if m.errMsg != "" {
			msg = fmt.Sprintf("Build failed: %s", m.errMsg)
		}
		b.WriteString(style.ErrorBox.Render("✗ " + msg))
	}

	b.WriteString("\n")
	return b.String()
}

// --- Commands ---

// connectAndBuild subscribes to the event stream before starting the build so
// no early event is missed, then forwards events for this build to a channel.
func connectAndBuild(params api.BuildParams) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(), nil)
		if err != nil {
			return wsError{err: fmt.Errorf("websocket connect: %w", err)}
		}

		started, err := client.StartBuild(params)
		if err != nil {
			conn.Close()
			return wsError{err: err}
		}

		ch := make(chan tea.Msg, 64)
		go func() {
			defer conn.Close()
			defer close(ch)

			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					ch <- wsError{err: fmt.Errorf("websocket read: %w", err)}
					return
				}

				var event wsEvent
				if err := json.Unmarshal(message, &event); err != nil {
					continue
				}
				if event.BuildID != started.BuildID {
					continue
				}

				switch event.Type {
				case "build.log":
					var entry model.LogEntry
					if json.Unmarshal(event.Payload, &entry) == nil {
						ch <- buildLogLine{entry: entry}
					}
				case "build.progress":
					var p struct {
						Progress int `json:"progress"`
					}
					if json.Unmarshal(event.Payload, &p) == nil {
						ch <- buildProgress{percent: p.Progress}
					}
				case "build.completed", "build.failed":
					var outcome model.BuildOutcome
					json.Unmarshal(event.Payload, &outcome)
					outcome.Success = event.Type == "build.completed"
					ch <- buildFinished{outcome: outcome}
					return
				}
			}
		}()

		return buildStarted{id: started.BuildID, ch: ch}
	}
}

// waitForEvent reads the next event from the channel.
func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return wsError{err: fmt.Errorf("event stream closed")}
		}
		return msg
	}
}
