// Package cli implements regadmin, the operator tool for registration
// records, hold sweeps and calendar sync.
package cli

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/config"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/spf13/cobra"
)

var ValidFormats = []string{"text", "json"}

type Registry interface {
	List(ctx context.Context) ([]domain.RegistrationRecord, error)
	Get(ctx context.Context, eventID string) (domain.RegistrationRecord, error)
	SetCapacity(ctx context.Context, eventID string, maxCapacity int) (domain.RegistrationRecord, error)
	Delete(ctx context.Context, eventID string) error
}

type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type Calendar interface {
	ListUpcoming(ctx context.Context, from time.Time) ([]domain.Event, error)
	PatchCapacity(ctx context.Context, eventID string, maxCapacity int) (domain.Event, error)
}

type CatalogWriter interface {
	Upsert(ctx context.Context, events ...domain.Event) (int, error)
}

// Deps are opened on demand; commands fail with a clear message when the
// dependency they need was not configured.
type Deps struct {
	Registry Registry
	Sweeper  Sweeper
	Calendar Calendar
	Catalog  CatalogWriter
}

// Opener connects the dependencies. The returned func releases them.
type Opener func(ctx context.Context) (*Deps, func(), error)

type RootOptions struct {
	Format  string
	Timeout time.Duration

	config *config.Config
	open   Opener
}

func NewRootCommand(cfg *config.Config, open Opener) *cobra.Command {
	opts := &RootOptions{config: cfg, open: open}

	cmd := &cobra.Command{
		Use:           "regadmin",
		Short:         "Administer rink registration records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return errors.Newf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(
		newListCommand(opts),
		newGetCommand(opts),
		newSetCapacityCommand(opts),
		newDeleteCommand(opts),
		newSweepCommand(opts),
		newSyncEventsCommand(opts),
		newPatchEventCommand(opts),
		newCheckEnvCommand(opts),
	)
	return cmd
}

// Execute runs the command tree and reports a failure in the selected
// format. It returns the process exit code.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	out := &output{format: format, w: cmd.OutOrStdout(), errW: cmd.ErrOrStderr()}
	out.failure(err)
	return 1
}

// run opens dependencies with the command timeout applied and hands them to fn.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, deps *Deps, out *output) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	deps, closeDeps, err := o.open(ctx)
	if err != nil {
		return errors.Wrap(err, "open dependencies")
	}
	defer closeDeps()
	return fn(ctx, deps, o.output(cmd))
}

func (o *RootOptions) output(cmd *cobra.Command) *output {
	return &output{format: o.Format, w: cmd.OutOrStdout(), errW: cmd.ErrOrStderr()}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
