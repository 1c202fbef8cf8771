// Package cli implements the stowage command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app holds global flag values and the configuration loaded before every
// subcommand runs.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool

	config types.Config
	log    *zap.Logger
}

// NewRootCmd creates the top-level "stowage" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "stowage",
		Short: "Unit-of-work persistence with lazy association placeholders",
		Long: "Stowage loads and writes mapped entities through a unit of work.\n" +
			"Associations to rows not yet loaded are held as placeholders that\n" +
			"initialize on first access without undoing pending reassignments.",
		Version:       stowage.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default: platform config dir, or $STOWAGE_CONFIG_DIR)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory for the sqlite backend (default: $(CWD)/.stowage-db)")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log unit-of-work activity to stderr")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newFindCmd(a),
		newCreateCmd(a),
		newSetCmd(a),
		newLinkCmd(a),
		newDeleteCmd(a),
		newScenarioCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Args[1:], os.Stderr))
}

// run executes root with args and maps the outcome to an exit code.
func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "stowage:", err)
	return exitCode(err)
}

// userErrors are failures caused by the command line rather than the system.
var userErrors = []error{
	types.ErrEntityNotFound,
	types.ErrUnknownEntity,
	types.ErrUnknownField,
	types.ErrNotAssociation,
	types.ErrNotCollection,
	types.ErrTypeMismatch,
	types.ErrInvalidID,
	types.ErrIdentifierChanged,
	types.ErrDuplicateIdentity,
	types.ErrDuplicateRow,
	errUsage,
}

// errUsage marks malformed arguments.
var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// setup loads config.yaml and builds the logger.
func (a *app) setup() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.config = cfg
	log, err := newLogger(a.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.log = log
	return nil
}

// openStore opens the configured backend.
func (a *app) openStore(ctx context.Context) (*stowage.Store, error) {
	st, err := stowage.Open(ctx, a.config, stowage.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", a.config.Backend, err)
	}
	return st, nil
}

// withSession opens the store and a session, runs fn, and releases both.
func (a *app) withSession(ctx context.Context, fn func(*stowage.Store, *stowage.Session) error) (err error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	s := st.NewSession()
	defer func() {
		stats := s.Stats()
		a.log.Debug("session done",
			zap.String("epoch", stats.Epoch),
			zap.Int("managed", stats.Managed),
			zap.Int("placeholders", stats.Placeholders),
			zap.Int("snapshots", stats.Snapshots))
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(st, s)
}
