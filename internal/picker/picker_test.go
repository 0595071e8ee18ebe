package picker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/timeutil"
)

var station = picks.Station{Network: "CM", Code: "BAR2", Location: "00", Channel: "HH"}

const eventParametersXML = `<?xml version="1.0" encoding="UTF-8"?>
<seiscomp xmlns="http://geofon.gfz-potsdam.de/ns/seiscomp3-schema/0.13" version="0.13">
  <EventParameters>
    <pick publicID="Pick/1">
      <time><value>2023-05-06T07:08:09.123456Z</value></time>
      <waveformID networkCode="CM" stationCode="BAR2" locationCode="00" channelCode="HHZ"/>
      <phaseHint>P</phaseHint>
    </pick>
    <pick publicID="Pick/2">
      <time><value>2023-05-06T07:08:20.5Z</value></time>
      <phaseHint>S</phaseHint>
    </pick>
    <pick publicID="Pick/3">
      <time><value>2023-05-06T07:09:00.000000Z</value></time>
      <phaseHint>P</phaseHint>
    </pick>
  </EventParameters>
</seiscomp>`

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestParsePicks(t *testing.T) {
	got, err := ParsePicks([]byte(eventParametersXML), picks.PhaseP)
	require.NoError(t, err)
	want := []time.Time{
		time.Date(2023, 5, 6, 7, 8, 9, 123456000, time.UTC),
		time.Date(2023, 5, 6, 7, 9, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("P picks mismatch (-want +got):\n%s", diff)
	}

	s, err := ParsePicks([]byte(strings.ReplaceAll(eventParametersXML, "0.13", "0.12")), picks.PhaseS)
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.True(t, s[0].Equal(time.Date(2023, 5, 6, 7, 8, 20, 500000000, time.UTC)))
}

func TestParsePicks_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"not xml", "scautopick: fatal"},
		{"bad time", `<seiscomp><EventParameters><pick><time><value>soon</value></time><phaseHint>P</phaseHint></pick></EventParameters></seiscomp>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePicks([]byte(tt.doc), picks.PhaseP)
			assert.True(t, errors.Is(err, ErrMalformedResult), "got %v", err)
		})
	}

	none, err := ParsePicks([]byte(`<seiscomp><EventParameters/></seiscomp>`), picks.PhaseP)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResultPath(t *testing.T) {
	assert.Equal(t, "/work/picks/ev1.BAR2.00.HH_20230506T070809_picks.xml",
		ResultPath("/work/picks", "/cache/BAR2/P/ev1.BAR2.00.HH_20230506T070809.mseed"))
}

func TestReplayCommand(t *testing.T) {
	inv := Invocation{Phase: picks.PhaseP, Waveform: "/c/w.mseed", ConfigPath: "/work/exc_best_BAR2_P.xml", ResultPath: "/r/P/w_picks.xml"}
	assert.Equal(t,
		"scautopick -I /c/w.mseed --config-db /work/exc_best_BAR2_P.xml --amplitudes 0 --inventory-db inv.xml --playback --ep > /r/P/w_picks.xml; scrttv /c/w.mseed -i /r/P/w_picks.xml",
		ReplayCommand("scautopick", "inv.xml", inv))
}

func newScautopick(fs fsutil.FileSystem, cmds *MockCommandBuilder) *Scautopick {
	s := NewScautopick("scautopick", "/etc/inventory.xml", fs)
	s.Commands = cmds
	s.Clock = timeutil.NewMockClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	return s
}

func TestScautopick_Invoke(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	cmds := NewMockCommandBuilder()
	cmds.ExecutorFactory = func(string, []string) *MockCommandExecutor {
		return &MockCommandExecutor{Output: []byte(eventParametersXML)}
	}
	s := newScautopick(fs, cmds)

	inv := Invocation{Phase: picks.PhaseP, Waveform: "/c/w.mseed", ConfigPath: "/work/exc_BAR2_P.xml", ResultPath: "/work/picks/w_picks.xml"}
	got, err := s.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	last := cmds.LastCommand()
	require.NotNil(t, last)
	assert.Equal(t, "scautopick", last.Name)
	assert.Equal(t, []string{"-I", "/c/w.mseed", "--config-db", "/work/exc_BAR2_P.xml",
		"--amplitudes", "0", "--inventory-db", "/etc/inventory.xml", "--playback", "--ep"}, last.Args)

	stored, err := fs.ReadFile("/work/picks/w_picks.xml")
	require.NoError(t, err)
	assert.Equal(t, eventParametersXML, string(stored))
}

func TestScautopick_InvokeFailures(t *testing.T) {
	inv := Invocation{Phase: picks.PhaseP, Waveform: "/c/w.mseed", ResultPath: "/w_picks.xml"}

	cmds := NewMockCommandBuilder()
	cmds.ExecutorFactory = func(string, []string) *MockCommandExecutor {
		return &MockCommandExecutor{Err: errors.New("exit status 1")}
	}
	_, err := newScautopick(fsutil.NewMemoryFileSystem(), cmds).Invoke(context.Background(), inv)
	assert.True(t, errors.Is(err, ErrProcessFailed), "got %v", err)

	cmds.ExecutorFactory = func(string, []string) *MockCommandExecutor {
		return &MockCommandExecutor{Output: []byte("garbage")}
	}
	_, err = newScautopick(fsutil.NewMemoryFileSystem(), cmds).Invoke(context.Background(), inv)
	assert.True(t, errors.Is(err, ErrMalformedResult), "got %v", err)
}

func TestScautopick_Render(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := newScautopick(fs, NewMockCommandBuilder())
	cfg, err := params.Derive(params.Configuration{
		"p_sta": 0.5, "p_sta_width": 2.5, "p_fmin": 2, "p_fwidth": 6, "p_snr": 2, "trig_on": 3.5,
	})
	require.NoError(t, err)

	path, err := s.Render(context.Background(), RenderRequest{
		Station: station, Phase: picks.PhaseP, Config: cfg, Path: "/work/exc_BAR2_P.xml",
	})
	require.NoError(t, err)
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)
	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, `xmlns="`+ConfigNamespace+`"`)
	assert.Contains(t, doc, `networkCode="CM"`)
	assert.Contains(t, doc, `stationCode="BAR2"`)
	assert.Contains(t, doc, `created="2024-01-02T03:04:05Z"`)
	assert.Contains(t, doc, `<setup name="scautopick" enabled="true">`)

	ps, err := ConfigParams(data)
	require.NoError(t, err)
	v, ok := params.Lookup(ps, "detecFilter")
	require.True(t, ok)
	assert.Equal(t, "RMHP(10)>>ITAPER(30)>>BW(4,2,8)>>STALTA(0.50,3.00)", v)
	v, _ = params.Lookup(ps, "detecStream")
	assert.Equal(t, "HH", v)
	v, _ = params.Lookup(ps, "enable")
	assert.Equal(t, "true", v)
	_, ok = params.Lookup(ps, "spicker.AIC.filter")
	assert.False(t, ok, "S entries need S parameters")
}

func TestStub(t *testing.T) {
	want := []time.Time{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStub(map[string][]time.Time{"a.mseed": want})
	s.Errors = map[string]error{"/x/b.mseed": ErrProcessFailed}

	got, err := s.Invoke(context.Background(), Invocation{Waveform: "/cache/a.mseed"})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Invoke(context.Background(), Invocation{Waveform: "/x/b.mseed"})
	assert.ErrorIs(t, err, ErrProcessFailed)

	got, err = s.Invoke(context.Background(), Invocation{Waveform: "/x/c.mseed"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, s.Invocations(), 3)

	_, err = s.Render(context.Background(), RenderRequest{Path: "/p.xml"})
	require.NoError(t, err)
	assert.Len(t, s.Rendered(), 1)
}

func TestRealCommandBuilder(t *testing.T) {
	b := NewRealCommandBuilder()
	out, err := b.BuildCommand(context.Background(), "echo", "arg1", "arg2").Run()
	require.NoError(t, err)
	assert.Equal(t, "arg1 arg2", strings.TrimSpace(string(out)))

	_, err = b.BuildCommand(context.Background(), "sh", "-c", "echo first >&2; echo oops >&2; exit 3").Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
	assert.NotContains(t, err.Error(), "first")
}
