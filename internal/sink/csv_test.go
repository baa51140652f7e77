package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSinkAppends(t *testing.T) {
	base := t.TempDir()
	s := NewCSVSink(base)

	require.NoError(t, s.Record(context.Background(), testReading))
	second := testReading
	second.PM25 = 5
	second.PM10 = 7.3
	require.NoError(t, s.Record(context.Background(), second))

	fname := filepath.Join(base, "Feb2020", "sds011_A160.csv")
	assert.Equal(t, fname, s.Path(testReading))

	content, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t,
		"2020-02-14 08:30:00,sds011_A160,12.3,25.6\n"+
			"2020-02-14 08:30:00,sds011_A160,5.0,7.3\n",
		string(content))
}

func TestCSVSinkMonthFolder(t *testing.T) {
	base := t.TempDir()
	s := NewCSVSink(base)
	march := testReading
	march.Timestamp = march.Timestamp.AddDate(0, 1, 0)
	require.NoError(t, s.Record(context.Background(), march))
	_, err := os.Stat(filepath.Join(base, "Mar2020", "sds011_A160.csv"))
	assert.NoError(t, err)
}

func TestCSVSinkCancelled(t *testing.T) {
	s := NewCSVSink(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Record(ctx, testReading), context.Canceled)
}
