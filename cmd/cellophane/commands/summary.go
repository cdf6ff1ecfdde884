package commands

import (
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
)

// printSummary renders the end-of-session sample table: one row per
// sample with its state and any failure reason.
func printSummary(out io.Writer, samples *data.Samples, noColor bool) {
	if samples.Len() == 0 {
		return
	}

	okMark := color.GreenString("complete")
	failMark := color.RedString("failed")

	if noColor {
		okMark = "complete"
		failMark = "failed"
	}

	writer := table.NewWriter()
	writer.SetOutputMirror(out)
	writer.AppendHeader(table.Row{"Sample", "State", "Reason"})

	for _, sample := range samples.All() {
		state := okMark
		reason := ""

		if failed := sample.Failed(); failed != "" {
			state = failMark
			reason = failed
		}

		writer.AppendRow(table.Row{sample.ID, state, reason})
	}

	writer.AppendFooter(table.Row{
		"total", samples.Len(),
		"", // Reason column.
	})
	writer.SetStyle(table.StyleLight)
	writer.Render()
}
