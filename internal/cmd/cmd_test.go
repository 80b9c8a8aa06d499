package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/sprintfleet/internal/config"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "sprintfleet" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "sprintfleet")
	}

	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, want := range []string{"run", "config", "logs"} {
		if !cmdMap[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestConfigExample(t *testing.T) {
	out, err := executeCommand(rootCmd, "config", "example")
	if err != nil {
		t.Fatalf("config example error = %v", err)
	}
	for _, want := range []string{"experiment:", "num_sprints: 3", "teams:", "id: alpha", "wip_limits:"} {
		if !strings.Contains(out, want) {
			t.Errorf("config example output missing %q", want)
		}
	}
}

func TestRunExperiment_Defaults(t *testing.T) {
	cfg := config.Default()

	res, err := runExperiment(context.Background(), cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("runExperiment() error = %v", err)
	}

	if len(res.Reports) != cfg.Experiment.NumSprints {
		t.Fatalf("got %d reports, want %d", len(res.Reports), cfg.Experiment.NumSprints)
	}
	total := 0.0
	for _, r := range res.Reports {
		if len(r.Failed) != 0 {
			t.Errorf("sprint %d failed teams: %v", r.Sprint, r.Failed)
		}
		if len(r.Results) != len(cfg.Teams) {
			t.Errorf("sprint %d has %d results, want %d", r.Sprint, len(r.Results), len(cfg.Teams))
		}
		total += r.TotalVelocity()
	}
	if total == 0 {
		t.Error("expected some velocity across the experiment")
	}

	// Sprint 1 hands the portfolio to the only team without a backlog.
	if got := res.Reports[0].Distributed; got != len(cfg.Portfolio) {
		t.Errorf("sprint 1 distributed %d stories, want %d", got, len(cfg.Portfolio))
	}

	if len(res.Teams) != len(cfg.Teams) {
		t.Fatalf("got %d team statuses, want %d", len(res.Teams), len(cfg.Teams))
	}
	agents := 0
	for _, st := range res.Teams {
		agents += len(st.Agents)
	}
	if agents != 5 {
		t.Errorf("agents across teams = %d, want 5 (loans move agents, never drop them)", agents)
	}

	if res.Budget.Steps == 0 {
		t.Error("budget should record overhead steps")
	}
	if _, ok := res.Budget.ByStep["iteration_zero"]; !ok {
		t.Errorf("budget ByStep = %v, want iteration_zero", res.Budget.ByStep)
	}
	if res.Exported != nil {
		t.Error("export is disabled by default")
	}
}

func TestRunExperiment_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "unknown wip column",
			mutate: func(c *config.Config) { c.Kanban.WIPLimits = map[string]int{"doing": 1} },
		},
		{
			name:   "unknown bus backend",
			mutate: func(c *config.Config) { c.Bus.Backend = "carrier-pigeon" },
		},
		{
			name:   "unknown store driver",
			mutate: func(c *config.Config) { c.Store.Driver = "csv" },
		},
		{
			name:   "unknown ai backend",
			mutate: func(c *config.Config) { c.AI.Backend = "oracle" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			res, err := runExperiment(context.Background(), cfg, logging.NopLogger())
			if err == nil {
				t.Fatal("runExperiment() should fail")
			}
			if res != nil {
				t.Errorf("runExperiment() result = %+v, want nil", res)
			}
		})
	}
}

func TestSetupError(t *testing.T) {
	cfg := config.Default()
	cfg.Teams[1].Agents = cfg.Teams[0].Agents

	_, err := runExperiment(context.Background(), cfg, logging.NopLogger())
	if err == nil {
		t.Fatal("runExperiment() with a shared agent should fail")
	}
	if got := setupError(err).Error(); !strings.Contains(got, "invalid experiment setup") {
		t.Errorf("setupError() = %q, want the setup prefix", got)
	}

	dial := errors.New("dial tcp: connection refused")
	if got := setupError(dial); got != dial {
		t.Errorf("setupError() = %v, want infrastructure errors unchanged", got)
	}
}

func TestRenderResult(t *testing.T) {
	cfg := config.Default()
	res, err := runExperiment(context.Background(), cfg, logging.NopLogger())
	if err != nil {
		t.Fatalf("runExperiment() error = %v", err)
	}

	var buf bytes.Buffer
	renderResult(&buf, cfg, res)
	out := buf.String()
	for _, want := range []string{"Velocity by sprint", "alpha", "beta", "Total", "Boards", "Team Alpha", string(kanban.StatusDone), "Overhead budget"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestWIPLimits(t *testing.T) {
	got, err := wipLimits(map[string]int{"in_progress": 3, "review": 2})
	if err != nil {
		t.Fatalf("wipLimits() error = %v", err)
	}
	if got[kanban.StatusInProgress] != 3 || got[kanban.StatusReview] != 2 {
		t.Errorf("wipLimits() = %v", got)
	}
}

func TestStoryCard(t *testing.T) {
	c := storyCard(config.StoryConfig{Title: "Web client", StoryPoints: 5, Priority: 1, DependsOnTeam: "alpha"})
	if c.Status != kanban.StatusBacklog {
		t.Errorf("Status = %q, want backlog", c.Status)
	}
	if c.DependsOnTeam() != "alpha" {
		t.Errorf("DependsOnTeam() = %q, want alpha", c.DependsOnTeam())
	}
	if c := storyCard(config.StoryConfig{Title: "Docs"}); c.Metadata != nil {
		t.Errorf("Metadata = %v, want nil without a dependency", c.Metadata)
	}
}

const sampleLog = `{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"team sprint finished","component":"sprint","team_id":"alpha","sprint":1,"velocity":16}
{"time":"2026-01-02T10:00:01Z","level":"DEBUG","msg":"dependency resolved","component":"sprint","team_id":"beta","sprint":2}
{"time":"2026-01-02T10:00:02Z","level":"WARN","msg":"borrow rejected","component":"orchestrator","agent_id":"alpha-3","sprint":2}
not json at all
`

func TestLogFilter(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		grep   string
		team   string
		sprint int
		want   []string
		absent []string
	}{
		{
			name:   "team",
			team:   "alpha",
			want:   []string{"team sprint finished"},
			absent: []string{"dependency resolved", "borrow rejected"},
		},
		{
			name:   "sprint",
			sprint: 2,
			want:   []string{"dependency resolved", "borrow rejected"},
			absent: []string{"team sprint finished"},
		},
		{
			name:   "level",
			level:  "warn",
			want:   []string{"borrow rejected"},
			absent: []string{"team sprint finished", "dependency resolved"},
		},
		{
			name:   "grep extra fields",
			grep:   "^team sprint finished 16$",
			want:   []string{"team sprint finished"},
			absent: []string{"borrow rejected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := newLogFilter(tt.level, "", tt.grep, tt.team, tt.sprint)
			if err != nil {
				t.Fatalf("newLogFilter() error = %v", err)
			}
			var shown []string
			for _, line := range strings.Split(sampleLog, "\n") {
				if out, ok := f.render(line); ok {
					shown = append(shown, out)
				}
			}
			joined := strings.Join(shown, "\n")
			for _, w := range tt.want {
				if !strings.Contains(joined, w) {
					t.Errorf("output missing %q:\n%s", w, joined)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(joined, a) {
					t.Errorf("output should not contain %q:\n%s", a, joined)
				}
			}
			// Raw lines always pass through.
			if !strings.Contains(joined, "not json at all") {
				t.Error("non-JSON lines should be shown as-is")
			}
		})
	}
}

func TestNewLogFilter_Invalid(t *testing.T) {
	if _, err := newLogFilter("", "yesterday", "", "", 0); err == nil {
		t.Error("invalid --since should fail")
	}
	if _, err := newLogFilter("", "", "(", "", 0); err == nil {
		t.Error("invalid --grep should fail")
	}
}

func TestFormatLogEntry(t *testing.T) {
	f, err := newLogFilter("", "", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.Split(sampleLog, "\n")[0]
	out, ok := f.render(line)
	if !ok {
		t.Fatal("render() filtered an unfiltered line")
	}
	for _, want := range []string{"10:00:00.000", "INFO", "team sprint finished", "team_id=", "alpha", "sprint=", "velocity=", "16"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted entry missing %q: %s", want, out)
		}
	}
}

func TestDisplayLogs_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), logging.LogFileName)
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := newLogFilter("", "", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := displayLogs(&buf, path, 2, f); err != nil {
		t.Fatalf("displayLogs() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "team sprint finished") {
		t.Errorf("tail 2 should drop the first entries:\n%s", out)
	}
	if !strings.Contains(out, "borrow rejected") || !strings.Contains(out, "not json at all") {
		t.Errorf("tail 2 should keep the last entries:\n%s", out)
	}

	buf.Reset()
	none, _ := newLogFilter("", "", "", "gamma", 0)
	if err := displayLogs(&buf, path, 0, none); err != nil {
		t.Fatalf("displayLogs() error = %v", err)
	}
	if !strings.Contains(buf.String(), "not json at all") {
		t.Errorf("raw lines should pass the team filter:\n%s", buf.String())
	}
}
