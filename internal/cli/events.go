package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/spf13/cobra"
)

func newSyncEventsCommand(opts *RootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "sync-events",
		Short: "Copy upcoming calendar events into the Mongo catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().UTC()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return errors.Wrapf(domain.ErrInvalidInput, "--from %q: %v", from, err)
				}
				start = t
			}
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				if deps.Calendar == nil {
					return errors.New("calendar is not configured")
				}
				if deps.Catalog == nil {
					return errors.New("mongo catalog is not configured")
				}
				events, err := deps.Calendar.ListUpcoming(ctx, start)
				if err != nil {
					return err
				}
				n, err := deps.Catalog.Upsert(ctx, events...)
				if err != nil {
					return err
				}
				return out.emit(map[string]int{"listed": len(events), "synced": n}, func(w io.Writer) {
					fmt.Fprintf(w, "synced %d of %d events\n", n, len(events))
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sync events starting at this RFC 3339 time (default now)")
	return cmd
}

func newPatchEventCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patch-event <event-id> <max-capacity>",
		Short: "Set the maxCapacity metadata on a calendar event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil || capacity <= 0 {
				return errors.Wrapf(domain.ErrInvalidCapacity, "max-capacity %q must be a positive number", args[1])
			}
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				if deps.Calendar == nil {
					return errors.New("calendar is not configured")
				}
				ev, err := deps.Calendar.PatchCapacity(ctx, args[0], capacity)
				if err != nil {
					return err
				}
				return out.emit(ev, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s) max capacity %d\n", ev.ID, ev.Name, ev.MaxCapacity)
				})
			})
		},
	}
}

func newCheckEnvCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Report settings the selected backends require but are unset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			missing := opts.config.Missing()
			if len(missing) > 0 {
				return errors.Newf("missing settings: %s", strings.Join(missing, ", "))
			}
			return opts.output(cmd).emit(map[string][]string{"missing": {}}, func(w io.Writer) {
				fmt.Fprintln(w, "all required settings are present")
			})
		},
	}
}
