package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"winetours/internal/app"
	"winetours/internal/config"
	"winetours/internal/logging"
	"winetours/internal/report"
)

// report writes a year's invoices and cancellations to an XLSX file and
// uploads it when REPORT_BUCKET is set.
func main() {
	year := flag.Int("year", time.Now().Year(), "calendar year to export")
	out := flag.String("out", "", "output path (default winetours-<year>.xlsx)")
	upload := flag.Bool("upload", true, "upload to REPORT_BUCKET when configured")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	f, sum, err := a.Reports.BuildWorkbook(ctx, *year)
	if err != nil {
		log.WithError(err).Fatal("building workbook failed")
	}
	defer f.Close()

	path := *out
	if path == "" {
		path = fmt.Sprintf("winetours-%d.xlsx", *year)
	}
	if err := f.SaveAs(path); err != nil {
		log.WithError(err).Fatal("saving workbook failed")
	}
	log.WithField("path", path).WithField("invoiced", sum.Invoiced.StringFixed(2)).Info("workbook written")

	if !*upload || cfg.Report.Bucket == "" {
		return
	}
	uploader, err := report.NewGCSUploader(ctx, cfg.Report.Bucket, cfg.PubSub.CredentialsJSON)
	if err != nil {
		log.WithError(err).Fatal("gcs client failed")
	}
	defer uploader.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		log.WithError(err).Fatal("encoding workbook failed")
	}
	name := report.ObjectName(*year)
	if err := uploader.Upload(ctx, name, buf.Bytes()); err != nil {
		log.WithError(err).Fatal("upload failed")
	}
	log.WithField("object", name).Info("workbook uploaded")
}
