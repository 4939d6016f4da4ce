package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/entrhq/pagepilot/pkg/config"
	"github.com/entrhq/pagepilot/pkg/executor/cli"
	"github.com/entrhq/pagepilot/pkg/logging"
	"github.com/entrhq/pagepilot/pkg/metrics"
)

// envPrefix namespaces environment overrides, e.g. PAGEPILOT_MAX_STEPS.
const envPrefix = "PAGEPILOT"

func newRunCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run one or more browsing tasks",
		Long: `Run opens a browser and lets the model work on the task until it
calls done, runs out of steps, or fails too often.

Settings come from the --config YAML file, then PAGEPILOT_* environment
variables, then flags.`,
		Example: `  pagepilot run --task "find the price of the cheapest flight to Lisbon"
  pagepilot run --task "a" --task "b" --parallel 2 --output summary.json`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, v, args)
		},
	}

	f := cmd.Flags()
	f.StringArrayP("task", "t", nil, "task to run (repeatable)")
	f.StringP("config", "c", "", "YAML settings file")
	f.Bool("headless", true, "run the browser without a window")
	f.Int("max-steps", 0, "maximum steps per task")
	f.StringSlice("allowed-domain", nil, "restrict navigation to these domains (repeatable)")
	f.String("model", "", "model name")
	f.String("base-url", "", "OpenAI-compatible API base URL")
	f.Bool("vision", false, "send a screenshot with every step")
	f.String("workspace", "", "directory file actions are confined to")
	f.String("verbosity", "", "quiet, normal, verbose or debug")
	f.StringP("output", "o", "", "write a JSON run summary to this file")
	f.Bool("copy", false, "copy the final result to the clipboard")
	f.Int("parallel", cli.DefaultBatchLimit, "tasks run at once when several are given")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(cmd.Flags())
}

// loadSettings reads the settings file, if any, and applies environment
// and flag overrides on top.
func loadSettings(v *viper.Viper) (*config.Settings, error) {
	settings := config.DefaultSettings()
	if path := v.GetString("config"); path != "" {
		s, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		settings = s
	}
	applyOverrides(v, settings)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func applyOverrides(v *viper.Viper, s *config.Settings) {
	if v.IsSet("headless") {
		s.Browser.Headless = v.GetBool("headless")
	}
	if v.IsSet("max-steps") {
		s.Agent.MaxSteps = v.GetInt("max-steps")
	}
	if v.IsSet("allowed-domain") {
		s.Browser.AllowedDomains = v.GetStringSlice("allowed-domain")
	}
	if v.IsSet("model") {
		s.LLM.Model = v.GetString("model")
	}
	if v.IsSet("base-url") {
		s.LLM.BaseURL = v.GetString("base-url")
	}
	if v.IsSet("vision") {
		s.Agent.Vision = v.GetBool("vision")
	}
	if v.IsSet("workspace") {
		s.WorkspaceDir = v.GetString("workspace")
	}
	if v.IsSet("verbosity") {
		s.Logging.Verbosity = v.GetString("verbosity")
	}
}

func collectTasks(v *viper.Viper, args []string) []string {
	var tasks []string
	for _, t := range v.GetStringSlice("task") {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(args) > 0 {
		tasks = append(tasks, strings.Join(args, " "))
	}
	return tasks
}

func runTasks(cmd *cobra.Command, v *viper.Viper, args []string) error {
	tasks := collectTasks(v, args)
	if len(tasks) == 0 {
		return errors.New("no task given; use --task or pass it as an argument")
	}

	settings, err := loadSettings(v)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(settings.Logging.Verbosity); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	if addr := v.GetString("metrics-addr"); addr != "" {
		shutdown := serveMetrics(addr, collector)
		defer shutdown()
	}

	exec, err := cli.NewExecutor(settings,
		cli.WithWriter(cmd.OutOrStdout()),
		cli.WithMetrics(collector),
		cli.WithCopy(v.GetBool("copy")),
	)
	if err != nil {
		return err
	}

	summaries, runErr := exec.RunBatch(ctx, tasks, v.GetInt("parallel"))

	if path := v.GetString("output"); path != "" {
		var done []*cli.Summary
		for _, s := range summaries {
			if s != nil {
				done = append(done, s)
			}
		}
		if err := cli.WriteSummaries(path, done...); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return unsuccessful(summaries)
}

func unsuccessful(summaries []*cli.Summary) error {
	failed := 0
	for _, s := range summaries {
		if s == nil || !s.Success {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d tasks did not complete successfully", failed, len(summaries))
}

// serveMetrics exposes collector on addr until the returned func is called.
func serveMetrics(addr string, collector *metrics.Collector) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
