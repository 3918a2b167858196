package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/reconcile"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	dbFlags
	Kind     string
	Incident int64
	Room     int64
	Prune    bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <file>",
		Short: "Merge a layer file into the database",
		Long: `Reconcile layers read from a file against the stored copies, exactly as
a fetch would. New layers are inserted, changed layers replace the stored
ones with their features and hazards, equal layers are left alone.

The file holds one layer or a list of layers, as JSON or (.yaml/.yml) YAML.
With --prune, stored layers of the room missing from the file are deleted.

Examples:
  fieldsync reconcile --db ./fieldsync.db --room 10 layers.json
  fieldsync reconcile --db ./fieldsync.db --incident 1 --room 10 --prune layers.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), opts, args[0], cmd)
		},
	}
	opts.bind(cmd, true)
	cmd.Flags().StringVar(&opts.Kind, "kind", string(model.LayerCollabroom), "layer kind")
	cmd.Flags().Int64Var(&opts.Incident, "incident", 0, "incident id for layers that carry none")
	cmd.Flags().Int64Var(&opts.Room, "room", 0, "collaboration room id for layers that carry none")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete stored layers of the room missing from the file")

	return cmd
}

func runReconcile(ctx context.Context, opts *ReconcileOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kind, err := model.ParseLayerKind(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	if opts.Prune && opts.Room <= 0 {
		return NewExitError(ExitCommandError, "--prune requires --room")
	}

	layers, err := readLayerFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read layer file", err)
	}

	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	scope := model.ScopeKeys{IncidentID: opts.Incident, CollabroomID: opts.Room}
	rec := reconcile.New(st, nil, slog.Default())
	result, err := rec.ReconcileBatch(ctx, kind, scope, layers, reconcile.BatchOptions{PruneMissing: opts.Prune})
	if err != nil {
		return WrapExitError(ExitFailure, "reconcile failed", err)
	}

	return newFormatter(cmd, opts.RootOptions).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Reconciled %d layer(s) from %s\n", len(layers), filepath.Base(path))
		fmt.Fprintf(w, "  inserted  %d\n", result.Inserted)
		fmt.Fprintf(w, "  replaced  %d\n", result.Replaced)
		fmt.Fprintf(w, "  unchanged %d\n", result.Unchanged)
		fmt.Fprintf(w, "  pruned    %d\n", result.Pruned)
		fmt.Fprintf(w, "  failed    %d\n", result.Failed)
	})
}

// readLayerFile decodes one layer or a list of layers.
func readLayerFile(path string) ([]model.LayeredResource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var list []model.LayeredResource
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		var one model.LayeredResource
		if err := yaml.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []model.LayeredResource{one}, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.LayeredResource
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	}
	var one model.LayeredResource
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []model.LayeredResource{one}, nil
}
