package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"
)

// Show prints recent records, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	reader, closeReader, err := a.history(ctx)
	if err != nil {
		return err
	}
	defer closeReader()

	records, err := reader.ListRecent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tPrice\tChange\tPercent")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.Timestamp.Format(time.RFC3339),
			rec.Price.StringFixed(2),
			orDash(rec.ChangeString()),
			orDash(rec.PercentString()),
		)
	}

	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
