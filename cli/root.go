/*
Package cli implements the prg command line.

COMMANDS:
  prg serve        Local HTTP API over one workbook
  prg calculate    Recalculate pipeline loads and print them
  prg auto-bind    Bind unbound consumers to the pipelines of their settlement
  prg check        Run every consistency check
  prg config init  Write the default configuration file

GLOBAL FLAGS:
  --config    configuration file (default prg.yaml; a missing file means defaults)
  --workbook  workbook path, overrides workbook.path
  --debug     debug logging, overrides logging.level

SAVING:
  calculate and auto-bind change only the in-memory session unless --save
  is given. --save commits every pending change to the workbook (with a
  backup when workbook.backup is set) and records the commit in the journal.

SEE ALSO:
  - config/config.go: configuration file and environment
  - session/session.go: the session every command works on
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/allocation/store"
	"github.com/warp/prg-engine/config"
	"github.com/warp/prg-engine/session"
	"github.com/warp/prg-engine/store/sqlite"
	"github.com/warp/prg-engine/workbook"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
}

// Execute runs the root command with os.Args.
func Execute(version string) int {
	if err := NewRootCmd(version).Execute(); err != nil {
		return 1
	}
	return 0
}

// NewRootCmd creates the root Cobra command for the prg CLI.
func NewRootCmd(version string) *cobra.Command {
	a := &app{log: zerolog.Nop()}

	var (
		configPath   string
		workbookPath string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:           "prg",
		Short:         "Consumer to pipeline binding and load calculation",
		Long:          "prg binds gas consumers to distribution pipelines inside a workbook and derives pipeline loads from those bindings.",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workbook") {
				cfg.Workbook.Path = workbookPath
			}
			if debug {
				cfg.Logging.Level = zerolog.LevelDebugValue
			}

			log, closer, err := config.NewLogger(cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			a.logCloser = closer
			a.log.Debug().Str("config", configPath).Str("workbook", cfg.Workbook.Path).Msg("configuration loaded")
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.logCloser == nil {
				return nil
			}
			return a.logCloser.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	cmd.PersistentFlags().StringVar(&workbookPath, "workbook", "", "workbook path (overrides workbook.path)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(a),
		newCalculateCmd(a),
		newAutoBindCmd(a),
		newCheckCmd(a),
		newConfigCmd(),
	)
	return cmd
}

// =============================================================================
// SESSION WIRING
// =============================================================================

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openJournal opens the SQLite journal, or an in-memory one when no path is
// configured. The returned closer is never nil.
func (a *app) openJournal() (*allocation.Journal, io.Closer, error) {
	if a.cfg.Journal.Path == "" {
		return allocation.NewJournal(store.NewMemory()), nopCloser{}, nil
	}
	db, err := sqlite.New(a.cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return allocation.NewJournal(db), db, nil
}

func (a *app) sessionOptions(journal *allocation.Journal) session.Options {
	return session.Options{
		WorkbookPath:  a.cfg.Workbook.Path,
		Layout:        a.cfg.Tables,
		Writer:        workbook.NewWriter(a.cfg.Workbook.Backup),
		Journal:       journal,
		AutoBindShare: a.cfg.Binding.AutoBindShare,
		Logger:        a.log,
	}
}

// openSession loads the configured workbook. The returned closer releases
// the journal.
func (a *app) openSession(ctx context.Context) (*session.Session, io.Closer, error) {
	if a.cfg.Workbook.Path == "" {
		return nil, nil, errors.New("no workbook: pass --workbook or set workbook.path")
	}
	journal, closer, err := a.openJournal()
	if err != nil {
		return nil, nil, err
	}
	s, err := session.Open(ctx, a.sessionOptions(journal))
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return s, closer, nil
}

// save commits pending changes when asked to and reports the outcome.
func save(ctx context.Context, w io.Writer, s *session.Session) error {
	res, err := s.Commit(ctx)
	if errors.Is(err, allocation.ErrNothingToCommit) {
		fmt.Fprintln(w, "Nothing to save.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Saved %d change(s) to %s (commit %s).\n", res.Commit.Applied, res.Commit.Workbook, res.Commit.ID)
	if res.Commit.BackupPath != "" {
		fmt.Fprintf(w, "Backup: %s\n", res.Commit.BackupPath)
	}
	for _, ce := range res.Skipped {
		fmt.Fprintf(w, "  not written: %v\n", ce)
	}
	return nil
}
