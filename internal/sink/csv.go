package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sds011 "github.com/hjkoskel/sds011sampler"
)

const csvTimeFormat = "2006-01-02 15:04:05"

// CSVSink appends time,sensor,pm25,pm10 rows to <base>/<Jan2006>/<sensor>.csv
type CSVSink struct {
	mu      sync.Mutex
	baseDir string
}

func NewCSVSink(baseDir string) *CSVSink {
	return &CSVSink{baseDir: baseDir}
}

func (p *CSVSink) Name() string {
	return "csv"
}

// Path of file where reading goes. New folder each month
func (p *CSVSink) Path(r sds011.Reading) string {
	return filepath.Join(p.baseDir, r.Timestamp.Format("Jan2006"), r.SensorID+".csv")
}

func (p *CSVSink) Record(ctx context.Context, r sds011.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fname := p.Path(r)
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return fmt.Errorf("creating month folder: %w", err)
	}
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	errW := w.Write([]string{
		r.Timestamp.Format(csvTimeFormat),
		r.SensorID,
		strconv.FormatFloat(r.PM25, 'f', 1, 64),
		strconv.FormatFloat(r.PM10, 'f', 1, 64),
	})
	if errW != nil {
		return errW
	}
	w.Flush()
	if errFlush := w.Error(); errFlush != nil {
		return errFlush
	}
	return f.Sync()
}

func (p *CSVSink) Close() error {
	return nil
}
