package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pricewatcher/internal/storage"
)

// Export renders stored records as CSV and/or a PNG price chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	reader, closeReader, err := a.history(ctx)
	if err != nil {
		return err
	}
	defer closeReader()

	to := time.Now()
	if opts.To != nil {
		to = *opts.To
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.Interval)
	if opts.From != nil {
		from = *opts.From
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := reader.ListBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.PriceRecord, max int) []storage.PriceRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.PriceRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.PriceRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(storage.CSVHeader); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Timestamp.Format(time.RFC3339Nano),
			rec.Price.String(),
			rec.ChangeString(),
			rec.PercentString(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.PriceRecord) error {
	if len(records) < 2 {
		return errors.New("at least two records are required to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	price := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.Timestamp
		price[i] = rec.Price.InexactFloat64()
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Price",
			XValues: x,
			YValues: price,
		},
	}

	// Change only plotted when every point has one; go-chart has no gaps.
	if change, ok := changeSeries(records); ok {
		series = append(series, chart.TimeSeries{
			Name:    "Change",
			XValues: x,
			YValues: change,
			YAxis:   chart.YAxisSecondary,
		})
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func changeSeries(records []storage.PriceRecord) ([]float64, bool) {
	out := make([]float64, len(records))
	for i, rec := range records {
		if !rec.Change.Valid {
			return nil, false
		}
		out[i] = rec.Change.Decimal.InexactFloat64()
	}
	return out, true
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
