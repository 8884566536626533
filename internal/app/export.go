package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bucketd/internal/storage"
)

// Export renders a basket's drift history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Basket == "" {
		return errors.New("--basket must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListDriftSamplesBetween(ctx, opts.Basket, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("basket", opts.Basket).Msg("no drift samples found for export window")
		return nil
	}

	a.Logger.Info().Int("total", len(samples)).Str("basket", opts.Basket).Msg("exporting drift samples")

	if opts.CSVPath != "" {
		if err := writeDriftCSV(opts.CSVPath, samples); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDriftPNG(opts.PNGPath, samples, opts.MaxPoints); err != nil {
			return err
		}
	}

	return nil
}

func writeDriftCSV(path string, samples []storage.DriftSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "asset", "target_bps", "actual_bps", "drift_bps", "value_usd"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.Bucket.Format(time.RFC3339),
			sample.Asset,
			itoa32(sample.TargetBps),
			itoa32(sample.ActualBps),
			itoa32(sample.DriftBps),
			sample.ValueUSD.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// assetSeries is a per-asset drift time series extracted from the samples.
type assetSeries struct {
	times  []time.Time
	drifts []float64
}

func writeDriftPNG(path string, samples []storage.DriftSample, maxPoints int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byAsset := make(map[string]*assetSeries)
	assets := make([]string, 0)
	for _, sample := range samples {
		series, ok := byAsset[sample.Asset]
		if !ok {
			series = &assetSeries{}
			byAsset[sample.Asset] = series
			assets = append(assets, sample.Asset)
		}
		series.times = append(series.times, sample.Bucket)
		series.drifts = append(series.drifts, float64(sample.DriftBps))
	}
	sort.Strings(assets)

	chartSeries := make([]chart.Series, 0, len(assets))
	for _, asset := range assets {
		series := byAsset[asset]
		times, drifts := downsampleSeries(series.times, series.drifts, maxPoints)
		chartSeries = append(chartSeries, chart.TimeSeries{
			Name:    shortAddress(asset),
			XValues: times,
			YValues: drifts,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Drift (bps)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: chartSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func downsampleSeries(times []time.Time, values []float64, max int) ([]time.Time, []float64) {
	if max <= 0 || len(times) <= max {
		return times, values
	}

	resultTimes := make([]time.Time, 0, max)
	resultValues := make([]float64, 0, max)
	step := float64(len(times)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(times) {
			idx = len(times) - 1
		}
		resultTimes = append(resultTimes, times[idx])
		resultValues = append(resultValues, values[idx])
	}
	return resultTimes, resultValues
}

func shortAddress(hex string) string {
	if len(hex) <= 10 {
		return hex
	}
	return hex[:6] + ".." + hex[len(hex)-4:]
}

func itoa32(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
