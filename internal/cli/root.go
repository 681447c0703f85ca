package cli

import (
	"errors"
	"fmt"

	"github.com/loopkit/nightscoutservice/internal/app"
	"github.com/loopkit/nightscoutservice/internal/config"
	"github.com/loopkit/nightscoutservice/internal/cryptox"
	"github.com/loopkit/nightscoutservice/internal/filex"
	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const skipAppAnnotation = "skip-app"

type runner struct {
	app           *app.App
	appOpts       []app.Option
	askPassphrase bool
	metricsOut    string
}

// NewRootCommand returns the command tree. opts are passed to app.New.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	r := &runner{appOpts: opts}

	cmd := &cobra.Command{
		Use:   "nightscout",
		Short: "Nightscout remote service for Loop",
		Long: `nightscout uploads Loop data to a Nightscout site and validates the
one-time passwords that accompany remote commands.

Configuration comes from a .env file, NIGHTSCOUT_* environment variables,
an optional JSON file (--config) and flags, in that order of precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.open,
	}

	config.RegisterFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().BoolVar(&r.askPassphrase, "ask-passphrase", false, "prompt for the secret passphrase")
	cmd.PersistentFlags().StringVar(&r.metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")

	cmd.AddCommand(
		newOTPCommand(r),
		newVerifyCommand(r),
		newProfileCommand(r),
		newStatusCommand(r),
		newUploadCommand(r),
		newVersionCommand(),
	)
	r.wrap(cmd)
	return cmd
}

// wrap makes every RunE release the app when it returns. PostRun hooks are
// skipped on error, and failed runs still need their metrics written.
func (r *runner) wrap(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		r.wrap(sub)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		err := run(c, args)
		if rerr := r.release(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
}

func (r *runner) open(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipAppAnnotation] != "" {
		return nil
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if r.askPassphrase && cfg.SecretPassphrase == "" {
		pw, err := GetPassphrase(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		cfg.SecretPassphrase = string(pw)
		cryptox.Wipe(pw)
	}

	a, err := app.New(cmd.Context(), cfg, cmd.ErrOrStderr(), r.appOpts...)
	if err != nil {
		return err
	}
	r.app = a
	return nil
}

func (r *runner) release() error {
	if r.app == nil {
		return nil
	}
	defer func() {
		_ = r.app.Close()
		r.app = nil
	}()

	if r.metricsOut != "" {
		if err := filex.EnsureParentDir(r.metricsOut); err != nil {
			return err
		}
		if err := r.app.Metrics.WriteToTextfile(r.metricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nightscout version %s (build: %s)\n", Version, BuildTime)
		},
	}
}
