package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/twmd-batch/internal/batch"
	"github.com/hochfrequenz/twmd-batch/internal/config"
	"github.com/hochfrequenz/twmd-batch/internal/display"
	"github.com/hochfrequenz/twmd-batch/internal/domain"
	"github.com/hochfrequenz/twmd-batch/internal/runstore"
)

var (
	runNoLogin    bool
	runSleep      int
	runSkipDirs   []string
	runIgnoreSkip bool
	runNoShuffle  bool
	runBinary     string

	statusOutput string
	resetFlag    string

	historyTarget string
	historyLimit  int

	initForce bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass over every user directory",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the marker files of every user directory",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table or yaml")
	rootCmd.AddCommand(statusCmd)

	// reset command
	resetCmd := &cobra.Command{
		Use:   "reset USER...",
		Short: "Remove a marker file from user directories",
		Long: `Remove a marker file from the given user directories.
The login marker is never removed automatically; reset it once the
account works without logging in again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReset,
	}
	resetCmd.Flags().StringVar(&resetFlag, "flag", "login", "marker to remove: login, skip or perm_skip")
	rootCmd.AddCommand(resetCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded downloader runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "only runs of this user")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs, 0 for all")
	rootCmd.AddCommand(historyCmd)

	// init-config command
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runInitConfig,
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

// addRunFlags registers the flags shared by run and watch
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&runNoLogin, "no-login", "n", false, "only log in for users that need it")
	cmd.Flags().IntVarP(&runSleep, "sleep", "s", 15, "seconds to wait between users")
	cmd.Flags().StringSliceVarP(&runSkipDirs, "skip-dirs", "d", []string{"script"}, "directories that are not users")
	cmd.Flags().BoolVar(&runIgnoreSkip, "ignore-skip", false, "run users that finished within the skip window")
	cmd.Flags().BoolVar(&runNoShuffle, "no-shuffle", false, "process users in name order")
	cmd.Flags().StringVar(&runBinary, "binary", "", "downloader executable")
}

// runOverrides applies only the flags set on the command line, so config
// values survive when a flag is left at its default
func runOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("no-login") {
			cfg.Downloader.NoLogin = runNoLogin
		}
		if flags.Changed("sleep") {
			cfg.Pacing.Interval = config.Duration(time.Duration(runSleep) * time.Second)
		}
		if flags.Changed("skip-dirs") {
			cfg.General.SkipDirs = runSkipDirs
		}
		if flags.Changed("ignore-skip") {
			cfg.General.IgnoreTempSkip = runIgnoreSkip
		}
		if flags.Changed("no-shuffle") {
			cfg.General.Shuffle = !runNoShuffle
		}
		if runBinary != "" {
			cfg.Downloader.Binary = runBinary
		}
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := loadApp(runOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.driver(display.Stdout())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	report, err := d.RunPass(ctx)
	if err != nil {
		return err
	}
	if report.CooldownDue > 0 {
		a.logger.Warn("last user was rate limited, wait before the next run", "cooldown", report.CooldownDue)
	}
	return nil
}

type statusRow struct {
	Name        string `yaml:"name"`
	State       string `yaml:"state"`
	LastDone    string `yaml:"last_done,omitempty"`
	RetryIn     string `yaml:"retry_in,omitempty"`
	NeedsLogin  bool   `yaml:"needs_login"`
	RetweetOnly bool   `yaml:"retweet_only"`
	Abnormal    int    `yaml:"abnormal_lines"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	targets, err := batch.ListTargets(a.cfg.General.WorkDir, a.cfg.General.SkipDirs, false)
	if err != nil {
		return err
	}

	store := a.store()
	window := a.cfg.Policy.TempSkipWindow.Std()
	now := time.Now()

	rows := make([]statusRow, 0, len(targets))
	for _, t := range targets {
		st, err := store.Snapshot(t.Name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", t.Name, err)
		}
		row := statusRow{
			Name:        t.Name,
			State:       "ready",
			NeedsLogin:  st.NeedsLogin,
			RetweetOnly: st.RetweetOnly,
			Abnormal:    st.Abnormal,
		}
		if st.TempSkip {
			row.LastDone = humanize.Time(now.Add(-st.TempSkipAge))
		}
		switch {
		case st.PermaSkip:
			row.State = "disabled"
		case st.TempSkipActive(window):
			row.State = "resting"
			row.RetryIn = display.HumanDuration(window - st.TempSkipAge)
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	switch statusOutput {
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(rows)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", statusOutput)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSTATE\tLAST DONE\tRETRY IN\tLOGIN\tRETWEETS\tABNORMAL")
	var disabled, resting int
	for _, r := range rows {
		switch r.State {
		case "disabled":
			disabled++
		case "resting":
			resting++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.State, orDash(r.LastDone), orDash(r.RetryIn),
			yesNo(r.NeedsLogin), yesNo(r.RetweetOnly), abnormalCell(r.Abnormal))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d users | %d ready | %d resting | %d disabled\n",
		len(rows), len(rows)-resting-disabled, resting, disabled)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	flag, ok := domain.ParseFlag(resetFlag)
	if !ok || flag == domain.FlagRetweetOnly {
		return fmt.Errorf("unknown marker %q: want login, skip or perm_skip", resetFlag)
	}

	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.store()
	for _, name := range args {
		info, err := os.Stat(filepath.Join(store.Root(), name))
		if err != nil || !info.IsDir() {
			return fmt.Errorf("no user directory %q in %s", name, store.Root())
		}
		if err := store.Clear(name, flag); err != nil {
			return err
		}
		a.logger.Info("sentinel cleared", "target", name, "flag", string(flag))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %s\n", name, flag)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := os.Stat(a.cfg.History.DatabasePath); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
		return nil
	}

	store, err := runstore.New(a.cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(runstore.ListOptions{Target: historyTarget, Limit: historyLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tUSER\tTOOK\tLINES\tDOWNLOADED\tEXISTS\tERRORS\tABNORMAL\tVERDICT\tNOTE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			humanize.Time(r.StartedAt),
			r.Target,
			display.HumanDuration(r.FinishedAt.Sub(r.StartedAt)),
			r.TotalLines, r.Downloaded, r.Exists, r.Errors, r.Abnormal,
			orDash(string(r.Verdict)),
			runNote(r))
	}
	return w.Flush()
}

func runNote(r runstore.Run) string {
	switch {
	case r.Error != "":
		return r.Error
	case r.TimedOut:
		return "timed out"
	case r.Terminated != "":
		return r.Terminated
	}
	return "-"
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func abnormalCell(n int) string {
	if n == 0 {
		return "-"
	}
	return humanize.Comma(int64(n)) + " lines"
}
