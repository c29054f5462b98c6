package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GuoMonth/trading-view/internal/client"
	"github.com/GuoMonth/trading-view/internal/export"
	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	flags := pflag.NewFlagSet("ohlcctl", pflag.ExitOnError)
	flags.String("base-url", "http://localhost:3000", "base URL of the OHLC API")
	flags.String("token", "", "bearer token for the read routes")
	flags.String("symbol", "", "symbol to export (all bars when empty)")
	flags.String("start", "", "range start, e.g. 2024-01-01")
	flags.String("end", "", "range end, inclusive")
	flags.String("format", "csv", "export format: csv, json or parquet")
	flags.String("out", "exports", "local directory for exports")
	flags.String("s3-bucket", "", "upload exports to this S3 bucket instead of --out")
	flags.String("s3-prefix", "", "key prefix inside the bucket")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-endpoint", "", "endpoint of an S3 compatible store")
	flags.String("schedule", "", "cron spec; keeps running and exports on every tick")
	flags.String("import", "", "JSON file of bars to import instead of exporting")
	flags.String("service-key", "", "service key for --import")
	flags.Duration("retry-timeout", 30*time.Second, "how long a request keeps retrying")
	flags.Bool("debug", false, "enable debug logging")
	flags.Parse(os.Args[1:])

	// Flags may also come from OHLCCTL_* environment variables, e.g. OHLCCTL_TOKEN
	v := viper.New()
	v.SetEnvPrefix("ohlcctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "bind flags: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(v.GetBool("debug"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ohlcClient := client.NewOHLCClient(
		v.GetString("base-url"),
		v.GetString("token"),
		logger,
		client.WithMaxElapsedTime(v.GetDuration("retry-timeout")),
	)

	if path := v.GetString("import"); path != "" {
		if err := runImport(ctx, ohlcClient, path, v.GetString("service-key"), logger); err != nil {
			logger.Fatal("Import failed", zap.Error(err))
		}
		return
	}

	job, err := newExportJob(v, ohlcClient, logger)
	if err != nil {
		logger.Fatal("Invalid export", zap.Error(err))
	}

	spec := v.GetString("schedule")
	if spec == "" {
		if _, err := job.Run(ctx); err != nil {
			logger.Fatal("Export failed", zap.Error(err))
		}
		return
	}

	scheduler := export.NewScheduler(ctx, job, logger)
	if err := scheduler.Register(spec); err != nil {
		logger.Fatal("Invalid schedule", zap.Error(err))
	}
	scheduler.Start()

	<-ctx.Done()
	scheduler.Stop()
}

func newExportJob(v *viper.Viper, source export.Source, logger *zap.Logger) (*export.Job, error) {
	saver, err := export.NewSaver(v.GetString("format"))
	if err != nil {
		return nil, err
	}

	var dest export.Destination
	if bucket := v.GetString("s3-bucket"); bucket != "" {
		dest, err = export.NewS3Destination(export.S3Config{
			Region:    v.GetString("s3-region"),
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Bucket:    bucket,
			Prefix:    v.GetString("s3-prefix"),
			Endpoint:  v.GetString("s3-endpoint"),
		})
	} else {
		dest, err = export.NewFileDestination(v.GetString("out"))
	}
	if err != nil {
		return nil, err
	}

	return export.NewJob(source, saver, dest, export.JobConfig{
		Symbol: v.GetString("symbol"),
		Start:  v.GetString("start"),
		End:    v.GetString("end"),
	}, logger)
}

func runImport(ctx context.Context, ohlcClient *client.OHLCClient, path, serviceKey string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var bars []model.PriceBar
	if err := json.Unmarshal(data, &bars); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	result, err := ohlcClient.Import(ctx, bars, serviceKey)
	if err != nil {
		return err
	}

	logger.Info("Imported bars",
		zap.Int("count", result.Count),
		zap.Strings("symbols", result.Symbols))
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
