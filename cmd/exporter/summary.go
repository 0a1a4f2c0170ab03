package main

import (
	"fmt"
	"os"
	"time"

	"github.com/aluiziolira/go-order-export/models"
	"github.com/aluiziolira/go-order-export/scraper"
	"github.com/jedib0t/go-pretty/v6/table"
)

const blockedGuidance = `The marketplace answered with a bot-verification page.
Do not re-run the exporter in a loop: repeated attempts make the block worse.
Open the site in your own browser, complete any check it shows, then copy a
fresh cookie and the same browser's user agent before the next run.`

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printSummary(summary *models.RunSummary, outputFile string, storeMetrics map[string]interface{}) {
	if summary == nil {
		return
	}

	blocked := scraper.Category(summary.Err) == scraper.CategoryBlocked

	if len(summary.Listings) > 0 {
		t := newTable()
		t.AppendHeader(table.Row{"Listing", "Pages", "New", "Duplicates", "Undated", "Stopped", "Problem"})
		for _, l := range summary.Listings {
			problem := ""
			if l.Err != nil {
				problem = scraper.Category(l.Err)
				blocked = blocked || problem == scraper.CategoryBlocked
			}
			t.AppendRow(table.Row{l.Kind, l.Pages, len(l.Orders), l.Duplicates, l.Undated, l.Reason, problem})
		}
		t.Render()
	}

	t := newTable()
	t.AppendRow(table.Row{"Run", summary.RunID})
	t.AppendRow(table.Row{"New orders", summary.NewOrders})
	t.AppendRow(table.Row{"Orders on record", summary.TotalOrders})
	if summary.Persisted {
		t.AppendRow(table.Row{"Output file", outputFile})
	} else {
		t.AppendRow(table.Row{"Output file", outputFile + " (unchanged)"})
	}
	if valErrors, ok := storeMetrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		t.AppendRow(table.Row{"Rejected rows", fmt.Sprint(valErrors)})
	}
	if summary.Err != nil {
		t.AppendRow(table.Row{"Error", fmt.Sprintf("%s: %v", scraper.Category(summary.Err), summary.Err)})
	}
	t.AppendRow(table.Row{"Duration", summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond)})
	t.Render()

	if blocked {
		fmt.Fprintln(os.Stderr, blockedGuidance)
	}
}
