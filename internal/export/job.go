package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"go.uber.org/zap"
)

// Source reads bars from the API
type Source interface {
	GetAll(ctx context.Context) ([]model.PriceBar, error)
	GetBySymbol(ctx context.Context, symbol string) ([]model.PriceBar, error)
	GetByDateRange(ctx context.Context, symbol string, req model.OHLCDateRangeRequest) ([]model.PriceBar, error)
}

// JobConfig selects the bars an export job fetches. An empty Symbol exports every bar;
// Start and End are only used together with a symbol.
type JobConfig struct {
	Symbol string
	Start  string
	End    string
}

// Job fetches bars, encodes them with a saver and hands the file to a destination
type Job struct {
	source Source
	saver  Saver
	dest   Destination
	cfg    JobConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewJob creates an export job
func NewJob(source Source, saver Saver, dest Destination, cfg JobConfig, logger *zap.Logger) (*Job, error) {
	if cfg.Symbol == "" && (cfg.Start != "" || cfg.End != "") {
		return nil, fmt.Errorf("a date range export needs a symbol")
	}
	if (cfg.Start == "") != (cfg.End == "") {
		return nil, fmt.Errorf("both start and end are required for a date range export")
	}
	if cfg.Start != "" {
		req := model.OHLCDateRangeRequest{Start: cfg.Start, End: cfg.End}
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	return &Job{
		source: source,
		saver:  saver,
		dest:   dest,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Run performs one export and returns the location of the written file
func (j *Job) Run(ctx context.Context) (string, error) {
	bars, err := j.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch bars: %w", err)
	}

	var buf bytes.Buffer
	if err := j.saver.Save(bars, &buf); err != nil {
		return "", fmt.Errorf("encode %s: %w", j.saver.Extension(), err)
	}

	location, err := j.dest.Put(ctx, j.fileName(), &buf)
	if err != nil {
		return "", err
	}

	j.logger.Info("Exported bars",
		zap.Int("count", len(bars)),
		zap.String("symbol", j.cfg.Symbol),
		zap.String("location", location))
	return location, nil
}

func (j *Job) fetch(ctx context.Context) ([]model.PriceBar, error) {
	switch {
	case j.cfg.Symbol == "":
		return j.source.GetAll(ctx)
	case j.cfg.Start != "":
		return j.source.GetByDateRange(ctx, j.cfg.Symbol, model.OHLCDateRangeRequest{
			Start: j.cfg.Start,
			End:   j.cfg.End,
		})
	default:
		return j.source.GetBySymbol(ctx, j.cfg.Symbol)
	}
}

// fileName is <symbol|all>_<utc time>.<ext>
func (j *Job) fileName() string {
	name := "all"
	if j.cfg.Symbol != "" {
		name = strings.NewReplacer("/", "-", " ", "-").Replace(j.cfg.Symbol)
	}
	return fmt.Sprintf("%s_%s.%s", name, j.now().UTC().Format("20060102T150405Z"), j.saver.Extension())
}
