package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/sharepoint"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the writable columns of the destination (or source) list",
		Long: `Print the writable columns of a list: display name, internal name and
type. Mapping targets and the primary key must be display names from the
destination schema.`,
		RunE: runSchema,
	}

	cmd.Flags().Bool("source", false, "show the source list instead of the destination")

	return cmd
}

// columnJSON is the --json shape of one column.
type columnJSON struct {
	DisplayName  string `json:"display_name"`
	InternalName string `json:"internal_name"`
	Type         string `json:"type"`
	TypeName     string `json:"type_name"`
	IDLike       bool   `json:"id_like,omitempty"`
}

func runSchema(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg.Config

	useSource, err := cmd.Flags().GetBool("source")
	if err != nil {
		return err
	}

	sess, err := NewSession(cfg, cc.Logger)
	if err != nil {
		return err
	}

	registry, list := sess.DestRegistry, cfg.Destination.List

	if useSource {
		if cfg.Source.Kind != config.SourceList {
			return fmt.Errorf("source is a %s, not a list", cfg.Source.Kind)
		}

		registry, list = sess.SourceRegistry, cfg.Source.List
	}

	schema, err := registry.Columns(cmd.Context(), list)
	if err != nil {
		return err
	}

	return printSchema(os.Stdout, schema, cc.Flags.JSON)
}

func printSchema(w io.Writer, schema sharepoint.Schema, asJSON bool) error {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}

	sort.Strings(names)

	if asJSON {
		out := make([]columnJSON, 0, len(names))
		for _, name := range names {
			col := schema[name]
			out = append(out, columnJSON{
				DisplayName:  col.DisplayName,
				InternalName: col.InternalName,
				Type:         col.DataType.String(),
				TypeName:     col.TypeName,
				IDLike:       col.IsIDLike,
			})
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		col := schema[name]
		rows = append(rows, []string{col.DisplayName, col.InternalName, col.DataType.String(), col.TypeName})
	}

	printTable(w, []string{"DISPLAY NAME", "INTERNAL NAME", "TYPE", "SERVER TYPE"}, rows)

	return nil
}
