package curate

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/picks"
)

func TestWriteTimes_Format(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	waveforms := []*CuratedWaveform{
		{
			Path:        "/tmp/eventA.GV02.00.HH_20250101T000030.mseed",
			Observation: picks.Observation{ID: "eventA", Time: start.Add(30*time.Second + 250*time.Microsecond)},
			Start:       start, SampleRate: 100, NPTS: 6000,
		},
		{
			Path:        "/tmp/eventB_NOISE.GV02.00.HH_20250101T000100.mseed",
			Observation: picks.Observation{ID: "eventB_NOISE"},
			Start:       start, SampleRate: 100, NPTS: 2000,
		},
	}
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteTimes(fs, "/out/GV02_P_HH.txt", waveforms))

	data, err := fs.ReadFile("/out/GV02_P_HH.txt")
	require.NoError(t, err)
	want := strings.Join([]string{
		"/tmp/eventA.GV02.00.HH_20250101T000030.mseed,2025-01-01T00:00:30.000250,2025-01-01T00:00:00.000000,100,6000",
		"/tmp/eventB_NOISE.GV02.00.HH_20250101T000100.mseed,NO_PICK,2025-01-01T00:00:00.000000,100,2000",
		"",
	}, "\n")
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("times file mismatch (-want +got):\n%s", diff)
	}

	entries, err := ReadTimes(fs, "/out/GV02_P_HH.txt")
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, waveforms[i].Entry(), e)
	}
}

func TestParseTimesLine_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "/a.mseed,NO_PICK"},
		{"empty path", ",NO_PICK,2025-01-01T00:00:00.000000,100,10"},
		{"bad pick", "/a.mseed,yesterday,2025-01-01T00:00:00.000000,100,10"},
		{"bad start", "/a.mseed,NO_PICK,2025-01-01,100,10"},
		{"zero rate", "/a.mseed,NO_PICK,2025-01-01T00:00:00.000000,0,10"},
		{"negative npts", "/a.mseed,NO_PICK,2025-01-01T00:00:00.000000,100,-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimesLine(tt.line)
			assert.Error(t, err)
		})
	}
}

func TestReadTimes_SkipsBlankLines(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/t.txt", []byte("\n/a.mseed,NO_PICK,2025-01-01T00:00:00.000000,50.5,10\n\n"), 0o644))
	entries, err := ReadTimes(fs, "/t.txt")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 50.5, entries[0].SampleRate)

	_, err = ReadTimes(fs, "/missing.txt")
	assert.Error(t, err)
}

func TestTimesFileName(t *testing.T) {
	assert.Equal(t, "GV02_S_HH.txt", TimesFileName(picks.Station{Code: "GV02", Channel: "HH"}, picks.PhaseS))
}
