package main

import (
	"encoding/json"
	"fmt"
	"io"

	pretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/AngelCh415/adreports/internal/table"
)

func render(w io.Writer, t *table.Table, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case "csv", "md", "markdown", "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	pw := pretty.NewWriter()
	pw.SetOutputMirror(w)
	pw.SetStyle(pretty.StyleLight)
	header := make(pretty.Row, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	pw.AppendHeader(header)
	for _, r := range t.Rows {
		row := make(pretty.Row, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = table.Format(r[c])
		}
		pw.AppendRow(row)
	}

	switch format {
	case "csv":
		pw.RenderCSV()
	case "md", "markdown":
		pw.RenderMarkdown()
	default:
		if t.Len() == 0 {
			fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		pw.Render()
		fmt.Fprintf(w, "(%d rows)\n", t.Len())
	}
	return nil
}
