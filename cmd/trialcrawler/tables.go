package main

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/clinical-trials-crawler/internal/cleaning"
	"github.com/JakeFAU/clinical-trials-crawler/internal/pubmed"
)

func renderCounts(w io.Writer, label string, counts []cleaning.Count) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{label, "Trials"})
	total := 0
	for _, c := range counts {
		t.AppendRow(table.Row{c.Label, c.Count})
		total += c.Count
	}
	t.AppendFooter(table.Row{"Total", total})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderPublications(w io.Writer, year int, results []pubmed.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Disease", "Publications " + strconv.Itoa(year), "Source"})
	for _, r := range results {
		source := r.Source
		if r.Err != nil {
			source = "error"
		}
		t.AppendRow(table.Row{r.Disease, r.Publications, source})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
