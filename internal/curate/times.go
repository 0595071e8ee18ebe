package curate

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/picks"
)

// TimeLayout formats every instant in a times file.
const TimeLayout = "2006-01-02T15:04:05.000000"

// NoPick marks a waveform without an expected pick.
const NoPick = "NO_PICK"

// TimesEntry is one line of a times file. Pick is zero for noise windows.
type TimesEntry struct {
	Path       string
	Pick       time.Time
	Start      time.Time
	SampleRate float64
	NPTS       int
}

// HasPick reports whether the entry carries a reference pick.
func (e TimesEntry) HasPick() bool { return !e.Pick.IsZero() }

// Entry returns the times file line of w.
func (w *CuratedWaveform) Entry() TimesEntry {
	return TimesEntry{
		Path:       w.Path,
		Pick:       w.Observation.Time,
		Start:      w.Start,
		SampleRate: w.SampleRate,
		NPTS:       w.NPTS,
	}
}

// TimesFileName returns "<sta>_<phase>_<ch>.txt".
func TimesFileName(station picks.Station, phase picks.Phase) string {
	return fmt.Sprintf("%s_%s_%s.txt", station.Code, phase, station.Channel)
}

// TimesPath returns the times file of phase inside the cache directory.
func (c *Curator) TimesPath(phase picks.Phase) string {
	return filepath.Join(c.Dir(phase), TimesFileName(c.station, phase))
}

func (e TimesEntry) String() string {
	pick := NoPick
	if e.HasPick() {
		pick = e.Pick.UTC().Format(TimeLayout)
	}
	return strings.Join([]string{
		e.Path,
		pick,
		e.Start.UTC().Format(TimeLayout),
		strconv.FormatFloat(e.SampleRate, 'f', -1, 64),
		strconv.Itoa(e.NPTS),
	}, ",")
}

// WriteTimes replaces path with one line per waveform, in order.
func WriteTimes(fs fsutil.FileSystem, path string, waveforms []*CuratedWaveform) error {
	var buf bytes.Buffer
	for _, w := range waveforms {
		buf.WriteString(w.Entry().String())
		buf.WriteByte('\n')
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create times dir: %w", err)
	}
	if err := fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write times file: %w", err)
	}
	return nil
}

// ReadTimes parses a times file. Blank lines are skipped.
func ReadTimes(fs fsutil.FileSystem, path string) ([]TimesEntry, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read times file: %w", err)
	}
	var out []TimesEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, err := ParseTimesLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan times file: %w", err)
	}
	return out, nil
}

// ParseTimesLine parses "path,pick|NO_PICK,start,rate,npts".
func ParseTimesLine(line string) (TimesEntry, error) {
	f := strings.Split(line, ",")
	if len(f) != 5 {
		return TimesEntry{}, fmt.Errorf("expected 5 fields, got %d", len(f))
	}
	e := TimesEntry{Path: strings.TrimSpace(f[0])}
	if e.Path == "" {
		return TimesEntry{}, fmt.Errorf("empty waveform path")
	}
	var err error
	if p := strings.TrimSpace(f[1]); p != NoPick {
		if e.Pick, err = time.Parse(TimeLayout, p); err != nil {
			return TimesEntry{}, fmt.Errorf("pick time: %w", err)
		}
	}
	if e.Start, err = time.Parse(TimeLayout, strings.TrimSpace(f[2])); err != nil {
		return TimesEntry{}, fmt.Errorf("start time: %w", err)
	}
	if e.SampleRate, err = strconv.ParseFloat(strings.TrimSpace(f[3]), 64); err != nil || e.SampleRate <= 0 {
		return TimesEntry{}, fmt.Errorf("invalid sample rate %q", f[3])
	}
	if e.NPTS, err = strconv.Atoi(strings.TrimSpace(f[4])); err != nil || e.NPTS < 0 {
		return TimesEntry{}, fmt.Errorf("invalid npts %q", f[4])
	}
	return e, nil
}
