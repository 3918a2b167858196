package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/outbox"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	dbFlags
}

// RecoverResult is the output of the recover command.
type RecoverResult struct {
	Requeued int64 `json:"requeued"`
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-queue records left in flight",
		Long: `Re-queue every record whose push was in flight when the previous process
stopped. The outcome of such a request is unknown, so the record goes back to
its queued state and is sent again by the next session.

Opening a session does this automatically; the command is for inspecting a
database copied off a device.

Example:
  fieldsync recover --db ./fieldsync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func runRecover(ctx context.Context, opts *RecoverOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := outbox.New(st, nil, model.UUIDv7Generator{}).ResetInFlight(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to re-queue records", err)
	}

	result := RecoverResult{Requeued: n}
	return newFormatter(cmd, opts.RootOptions).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Re-queued %d in-flight record(s)\n", n)
	})
}
