package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", formatTable, "output format (table, yaml, json)")
}

type table struct {
	header []string
	rows   [][]string
	// Alignment per column; left if unset.
	align []int
}

func (t *table) render(w io.Writer) {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader(t.header)
	tbl.SetAutoWrapText(false)
	tbl.AppendBulk(t.rows)
	align := make([]int, len(t.header))
	for i := range align {
		align[i] = tablewriter.ALIGN_LEFT
	}
	copy(align, t.align)
	tbl.SetColumnAlignment(align)
	tbl.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	tbl.SetCenterSeparator("|")
	tbl.Render()
}

// render writes v in the selected format. tbl builds the table form.
func (a *app) render(w io.Writer, v any, tbl func() *table) error {
	switch format := a.v.GetString("format"); format {
	case formatTable, "":
		tbl().render(w)
		return nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (expected %v, %v or %v)", format, formatTable, formatYAML, formatJSON)
	}
}
