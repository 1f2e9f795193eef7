// Command riftdbg is the presentation layer for the rift debugger core:
// a cobra command tree parsing `attach`/`launch` plus global `--theme`,
// `--log-level` and `--config` flags, driving internal/ui against a
// internal/session.Session. Grounded on the teacher's cmd/raztracer/main.go
// (flag-based theme selection, console title, tview.Application wiring),
// restated onto github.com/spf13/cobra + github.com/spf13/viper per
// SPEC_FULL.md section 6.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/riftdbg/rift/internal/session"
	"github.com/riftdbg/rift/internal/ui"
)

var (
	themeFlag    string
	logLevelFlag string
	configFlag   string
)

func main() {
	// ptrace requests must come from the thread that attached.
	runtime.LockOSThread()

	root := &cobra.Command{
		Use:   "riftdbg",
		Short: "A source-level debugger core for Linux/x86-64",
	}

	root.PersistentFlags().StringVar(&themeFlag, "theme", "light", "UI theme: light or dark")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to a riftdbg config file")

	root.AddCommand(attachCmd(), launchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach to a running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}

			log := newLogger()
			sess, err := session.Attach(pid, log)
			if err != nil {
				return err
			}
			defer sess.Detach()

			return runUI(sess)
		},
	}
}

func launchCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "launch <path> [args...]",
		Short:              "Launch and trace a new process",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			sess, err := session.Launch(args[0], args[1:], log)
			if err != nil {
				return err
			}
			defer sess.Detach()

			return runUI(sess)
		},
	}
}

func newLogger() *zap.SugaredLogger {
	loadConfig()

	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(logLevelFlag); err == nil {
		cfg.Level = lvl
	}

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

func loadConfig() {
	if configFlag == "" {
		return
	}
	viper.SetConfigFile(configFlag)
	_ = viper.ReadInConfig()

	if v := viper.GetString("theme"); v != "" {
		themeFlag = v
	}
	if v := viper.GetString("log-level"); v != "" {
		logLevelFlag = v
	}
}

func runUI(sess *session.Session) error {
	fmt.Printf("\033]0;riftdbg: %s\007", sess.ProgName())

	ui.ThemeByName(themeFlag).Apply()

	root := ui.NewRootElement(sess)
	app := tview.NewApplication().
		SetInputCapture(root.InputCapture()).
		SetRoot(root, true)

	go func() {
		<-root.Quit
		app.Stop()
	}()

	return app.SetFocus(root).Run()
}
