package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/outbox"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	dbFlags
	Kind     string
	Incident int64
	Room     int64
	Payload  string

	// IDs overrides the local id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs model.IDGenerator
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a new record for sending",
		Long: `Store a new user-authored record as SEND_PENDING. The next session that
polls its resource type pushes it.

Kinds: chat, markup, general_message, eod_report.

Examples:
  fieldsync submit --db ./fieldsync.db --kind chat --incident 1 --room 10 --payload '{"text":"on scene"}'
  fieldsync submit --db ./fieldsync.db --kind general_message --incident 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd, true)
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "record kind (required)")
	_ = cmd.MarkFlagRequired("kind")
	cmd.Flags().Int64Var(&opts.Incident, "incident", 0, "incident id (required)")
	_ = cmd.MarkFlagRequired("incident")
	cmd.Flags().Int64Var(&opts.Room, "room", 0, "collaboration room id")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "record payload as JSON")

	return cmd
}

func runSubmit(ctx context.Context, opts *SubmitOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kind, err := model.ParseRecordKind(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	if opts.Incident <= 0 {
		return NewExitError(ExitCommandError, "--incident must be positive")
	}
	if !json.Valid([]byte(opts.Payload)) {
		return NewExitError(ExitCommandError, "--payload is not valid JSON")
	}

	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	ids := opts.IDs
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}
	rec, err := outbox.New(st, nil, ids).Submit(ctx, model.Draft{
		Kind:    kind,
		Scope:   model.ScopeKeys{IncidentID: opts.Incident, CollabroomID: opts.Room},
		Payload: json.RawMessage(opts.Payload),
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to queue record", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(rec, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %s %s (%s)\n", rec.Kind, rec.LocalID, rec.Status)
	})
}
