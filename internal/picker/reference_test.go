package picker

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/params"
)

func TestLoadStationParams(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/ref/station_CM_BAR2", []byte(
		"# comment\n"+
			"detecStream = HH\n"+
			"detecLocid = 00\n"+
			"detecFilter = \"BW(4,2,8)>>STALTA(1,10)\"\n"+
			"trigOn = 3.5\n"+
			"no separator\n"+
			"trigOn = '4.0'\n"), 0o644))

	got, err := LoadStationParams(fs, "/ref/station_CM_BAR2")
	require.NoError(t, err)
	want := []params.Param{
		{Name: "detecStream", Value: "HH"},
		{Name: "detecLocid", Value: "00"},
		{Name: "detecFilter", Value: "BW(4,2,8)>>STALTA(1,10)"},
		{Name: "trigOn", Value: "4.0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadStationParams mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveReference(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/ref", 0o755))
	require.NoError(t, fs.WriteFile("/ref/station_CM_BAR2", []byte("trigOn = 3.0\n"), 0o644))
	require.NoError(t, fs.WriteFile("/ref/CM_URMC.cfg", []byte("trigOn = 3.0\n"), 0o644))
	require.NoError(t, fs.WriteFile("/single/custom.cfg", []byte("trigOn = 3.0\n"), 0o644))

	tests := []struct {
		name, ref, sta string
		want           string
	}{
		{"directory station file", "/ref", "BAR2", "/ref/station_CM_BAR2"},
		{"directory NET_STA.cfg", "/ref", "URMC", "/ref/CM_URMC.cfg"},
		{"directory no match", "/ref", "NOPE", ""},
		{"file matching station", "/ref/station_CM_BAR2", "BAR2", "/ref/station_CM_BAR2"},
		{"file for another station", "/ref/station_CM_BAR2", "NOPE", ""},
		{"free-form file", "/single/custom.cfg", "ANY", "/single/custom.cfg"},
		{"missing", "/nowhere", "BAR2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveReference(fs, tt.ref, "CM", tt.sta)
			if tt.want == "" {
				assert.True(t, errors.Is(err, ErrNoReference), "got %q, %v", got, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReferenceConfig(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/ref/station_CM_BAR2", []byte(
		"detecStream = HH\n"+
			"trigOn = 4.0\n"+
			"picker.AIC.minSNR = 3\n"), 0o644))

	ps, path, err := LoadReference(fs, "/ref", station)
	require.NoError(t, err)
	assert.Equal(t, "/ref/station_CM_BAR2", path)
	want := []params.Param{
		{Name: "detecStream", Value: "HH"},
		{Name: "detecLocid", Value: "00"},
		{Name: "trigOn", Value: "4.0"},
		{Name: "picker.AIC.minSNR", Value: "3"},
		{Name: "trigOff", Value: "1"},
		{Name: "timeCorr", Value: "0.0"},
	}
	if diff := cmp.Diff(want, ps); diff != "" {
		t.Errorf("ReferenceParams mismatch (-want +got):\n%s", diff)
	}

	doc, err := BuildConfig(station, ps, "reference", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `<parameter publicID="Parameter/reference/0">`)
	back, err := ConfigParams(doc)
	require.NoError(t, err)
	want = append(want, params.Param{Name: "enable", Value: "true"})
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("config document mismatch (-want +got):\n%s", diff)
	}
}
