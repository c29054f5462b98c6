package export

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

var sampleBars = []model.PriceBar{
	{
		ID: 1, Symbol: "AAPL", Period: 86400, Timestamp: "2024-01-01T00:00:00Z",
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	},
	{
		ID: 2, Symbol: "AAPL", Period: 86400, Timestamp: "2024-01-02T00:00:00Z",
		Open: 100.5, High: 103, Low: 100, Close: 102.25, Volume: 1500,
		CreatedAt: "2024-01-02T00:00:00Z", UpdatedAt: "2024-01-02T00:00:00Z",
	},
}

func TestNewSaver(t *testing.T) {
	for format, ext := range map[string]string{"csv": "csv", " JSON ": "json", "parquet": "parquet"} {
		s, err := NewSaver(format)
		if err != nil {
			t.Fatalf("NewSaver(%q): %v", format, err)
		}
		if s.Extension() != ext {
			t.Errorf("NewSaver(%q).Extension() = %q", format, s.Extension())
		}
	}

	if _, err := NewSaver("xlsx"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestCSVSaver(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVSaver{}).Save(sampleBars, &buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if lines[0] != "id,symbol,period,timestamp,open,high,low,close,volume,created_at,updated_at" {
		t.Errorf("header = %s", lines[0])
	}
	if want := "2,AAPL,86400,2024-01-02T00:00:00Z,100.5,103,100,102.25,1500,2024-01-02T00:00:00Z,2024-01-02T00:00:00Z"; lines[2] != want {
		t.Errorf("row = %s, want %s", lines[2], want)
	}
}

func TestJSONSaver_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONSaver{}).Save(nil, &buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("got %q", buf.String())
	}
}

func TestParquetSaver_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := (ParquetSaver{}).Save(sampleBars, &buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := parquet.Read[parquetBar](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	if rows[1].TimestampMS != want || rows[1].Close != 102.25 || rows[1].Symbol != "AAPL" {
		t.Errorf("row = %+v", rows[1])
	}
}

func TestParquetSaver_RejectsBadTimestamp(t *testing.T) {
	bad := []model.PriceBar{{Symbol: "AAPL", Timestamp: "yesterday"}}
	if err := (ParquetSaver{}).Save(bad, io.Discard); err == nil {
		t.Error("expected an error")
	}
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(
	_ aws.Context,
	input *s3manager.UploadInput,
	_ ...func(*s3manager.Uploader),
) (*s3manager.UploadOutput, error) {
	f.input = input
	body, err := io.ReadAll(input.Body)
	f.body = body
	return &s3manager.UploadOutput{}, err
}

func TestS3Destination_Put(t *testing.T) {
	uploader := &fakeUploader{}
	dest := &S3Destination{bucket: "exports", prefix: "ohlc/daily", uploader: uploader}

	location, err := dest.Put(context.Background(), "AAPL.csv", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if location != "s3://exports/ohlc/daily/AAPL.csv" {
		t.Errorf("location = %s", location)
	}
	if aws.StringValue(uploader.input.Key) != "ohlc/daily/AAPL.csv" || string(uploader.body) != "payload" {
		t.Errorf("unexpected upload %v %q", aws.StringValue(uploader.input.Key), uploader.body)
	}
}

type fakeSource struct {
	calls []string
}

func (f *fakeSource) GetAll(context.Context) ([]model.PriceBar, error) {
	f.calls = append(f.calls, "all")
	return sampleBars, nil
}

func (f *fakeSource) GetBySymbol(_ context.Context, symbol string) ([]model.PriceBar, error) {
	f.calls = append(f.calls, "symbol:"+symbol)
	return sampleBars, nil
}

func (f *fakeSource) GetByDateRange(_ context.Context, symbol string, req model.OHLCDateRangeRequest) ([]model.PriceBar, error) {
	f.calls = append(f.calls, "range:"+symbol+":"+req.Start+":"+req.End)
	return sampleBars[:1], nil
}

func TestJob_RunWritesFile(t *testing.T) {
	dir := t.TempDir()
	dest, err := NewFileDestination(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("destination: %v", err)
	}

	source := &fakeSource{}
	job, err := NewJob(source, JSONSaver{}, dest, JobConfig{Symbol: "AAPL", Start: "2024-01-01", End: "2024-01-31"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.now = func() time.Time { return time.Date(2024, 2, 1, 6, 30, 0, 0, time.UTC) }

	location, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if want := filepath.Join(dir, "out", "AAPL_20240201T063000Z.json"); location != want {
		t.Errorf("location = %s, want %s", location, want)
	}
	if len(source.calls) != 1 || source.calls[0] != "range:AAPL:2024-01-01:2024-01-31" {
		t.Errorf("calls = %v", source.calls)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"close": 100.5`) {
		t.Errorf("unexpected file content %s", data)
	}
}

func TestNewJob_Validation(t *testing.T) {
	tests := map[string]JobConfig{
		"range without symbol": {Start: "2024-01-01", End: "2024-01-02"},
		"start only":           {Symbol: "AAPL", Start: "2024-01-01"},
		"reversed":             {Symbol: "AAPL", Start: "2024-02-01", End: "2024-01-01"},
	}
	for name, cfg := range tests {
		if _, err := NewJob(&fakeSource{}, CSVSaver{}, nil, cfg, zap.NewNop()); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestScheduler_Register(t *testing.T) {
	job, err := NewJob(&fakeSource{}, CSVSaver{}, nil, JobConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	s := NewScheduler(context.Background(), job, zap.NewNop())

	for _, spec := range []string{"0 6 * * *", "30 0 6 * * *", "@hourly"} {
		if err := s.Register(spec); err != nil {
			t.Errorf("Register(%q): %v", spec, err)
		}
	}
	if err := s.Register("every day"); err == nil {
		t.Error("expected an error for an invalid spec")
	}
}
