package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/session"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	dbFlags
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted sync state",
		Long: `Show the sync state stored in a database: record counts per kind and
status, the polling groups the last session left armed, the online flag
and the time of the last successful request.

Examples:
  fieldsync status --db ./fieldsync.db
  fieldsync status --db ./fieldsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func runStatus(ctx context.Context, opts *StatusOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := session.Inspect(ctx, st)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read state", err)
	}
	return newFormatter(cmd, opts.RootOptions).Render(snap, func(w io.Writer) {
		writeSnapshot(w, snap)
	})
}

// writeSnapshot prints a Snapshot for humans.
func writeSnapshot(w io.Writer, snap session.Snapshot) {
	fmt.Fprintf(w, "Scope:        %s\n", snap.Scope)
	fmt.Fprintf(w, "Online:       %t\n", snap.Online)
	if snap.LastContact != nil {
		fmt.Fprintf(w, "Last contact: %s\n", snap.LastContact.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last contact: never")
	}
	if len(snap.Armed) == 0 {
		fmt.Fprintln(w, "Armed:        none")
	} else {
		names := make([]string, len(snap.Armed))
		for i, g := range snap.Armed {
			names[i] = string(g)
		}
		fmt.Fprintf(w, "Armed:        %s\n", strings.Join(names, ", "))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Records ===")
	if len(snap.Records) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range snap.Records {
		fmt.Fprintf(w, "  %-16s %-20s %d\n", c.Kind, c.Status, c.Count)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Layers ===")
	fmt.Fprintf(w, "  layers %d, features %d, hazards %d\n", snap.Layers.Layers, snap.Layers.Features, snap.Layers.Hazards)
}
