package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/spf13/cobra"
)

type recordSummary struct {
	EventID              string `json:"eventId"`
	MaxCapacity          int    `json:"maxCapacity"`
	CurrentRegistrations int    `json:"currentRegistrations"`
	Remaining            int    `json:"remaining"`
	IsSoldOut            bool   `json:"isSoldOut"`
}

func summarize(rec domain.RegistrationRecord) recordSummary {
	return recordSummary{
		EventID:              rec.EventID,
		MaxCapacity:          rec.MaxCapacity,
		CurrentRegistrations: rec.CurrentRegistrations,
		Remaining:            rec.MaxCapacity - rec.CurrentRegistrations,
		IsSoldOut:            rec.IsSoldOut(),
	}
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registration records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				records, err := deps.Registry.List(ctx)
				if err != nil {
					return err
				}
				rows := make([]recordSummary, 0, len(records))
				for _, rec := range records {
					rows = append(rows, summarize(rec))
				}
				return out.emit(rows, func(w io.Writer) {
					fmt.Fprintln(w, "EVENT\tMAX\tREGISTERED\tREMAINING\tSOLD OUT")
					for _, r := range rows {
						fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n", r.EventID, r.MaxCapacity, r.CurrentRegistrations, r.Remaining, r.IsSoldOut)
					}
				})
			})
		},
	}
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <event-id>",
		Short: "Show a registration record and its registrants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				rec, err := deps.Registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return out.emit(rec, func(w io.Writer) {
					s := summarize(rec)
					fmt.Fprintf(w, "event:\t%s\n", s.EventID)
					fmt.Fprintf(w, "capacity:\t%d/%d (%d remaining)\n", s.CurrentRegistrations, s.MaxCapacity, s.Remaining)
					fmt.Fprintf(w, "updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
					if len(rec.Registrations) == 0 {
						return
					}
					fmt.Fprintln(w)
					fmt.Fprintln(w, "ID\tPLAYER\tGUARDIAN\tPAYMENT\tCOMMITTED")
					for _, r := range rec.Registrations {
						fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\n",
							r.ID, r.Player.FirstName, r.Player.LastName, r.Guardian.Email,
							r.PaymentReference, r.CommittedAt.Format(time.RFC3339))
					}
				})
			})
		},
	}
}

func newSetCapacityCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-capacity <event-id> <max-capacity>",
		Short: "Change an event's maximum capacity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(domain.ErrInvalidCapacity, "max-capacity %q is not a number", args[1])
			}
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				rec, err := deps.Registry.SetCapacity(ctx, args[0], capacity)
				if err != nil {
					return err
				}
				s := summarize(rec)
				return out.emit(s, func(w io.Writer) {
					fmt.Fprintf(w, "%s capacity set to %d (%d registered)\n", s.EventID, s.MaxCapacity, s.CurrentRegistrations)
				})
			})
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete a registration record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.Newf("refusing to delete %s without --yes", args[0])
			}
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				if err := deps.Registry.Delete(ctx, args[0]); err != nil {
					return err
				}
				return out.emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %s\n", args[0])
				})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release expired holds once and announce them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, deps *Deps, out *output) error {
				n, err := deps.Sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				return out.emit(map[string]int{"released": n}, func(w io.Writer) {
					fmt.Fprintf(w, "released %d expired holds\n", n)
				})
			})
		},
	}
}
