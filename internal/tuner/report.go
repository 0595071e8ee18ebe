package tuner

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/picktune/internal/curate"
	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/picker"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/score"
)

const reportStamp = "2006-01-02T150405"

// Report is the per-station comparison of the reference and best picker
// configurations.
type Report struct {
	Station   picks.Station
	RadiusKm  float64
	Start     time.Time
	End       time.Time
	MaxPicks  int
	NTrials   int
	Collector *score.Collector
	// Entries are the times file entries evaluated per phase.
	Entries      map[picks.Phase][]curate.TimesEntry
	BestXML      map[picks.Phase]string
	ReferenceXML map[picks.Phase]string
	Binary       string
	Inventory    string
}

// FileName returns NET_STA_<radius>_<start>_<end>_<maxpicks>_<ntrials>_comparison.txt.
func (r *Report) FileName() string {
	return fmt.Sprintf("%s_%s_%s_%s_%s_%d_%d_comparison.txt",
		r.Station.Network, r.Station.Code,
		strconv.FormatFloat(r.RadiusKm, 'f', -1, 64),
		r.Start.UTC().Format(reportStamp), r.End.UTC().Format(reportStamp),
		r.MaxPicks, r.NTrials)
}

// ReplayRoot returns replay_picks/NET_STA under dir.
func (r *Report) ReplayRoot(dir string) string {
	return filepath.Join(dir, "replay_picks", r.Station.Network+"_"+r.Station.Code)
}

// EventIDs returns the distinct event ids of the picked entries in order.
// Noise entries are skipped.
func EventIDs(entries []curate.TimesEntry, st picks.Station) []string {
	marker := fmt.Sprintf(".%s.%s.%s_", st.Code, st.Location, st.Channel)
	seen := map[string]bool{}
	var ids []string
	for _, e := range entries {
		if !e.HasPick() {
			continue
		}
		base := filepath.Base(e.Path)
		i := strings.Index(base, marker)
		if i <= 0 {
			continue
		}
		id := base[:i]
		if strings.HasSuffix(id, picks.NoiseSuffix) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Write creates the replay directories and writes the report into dir. It
// returns the report path.
func (r *Report) Write(fs fsutil.FileSystem, dir string) (string, error) {
	replay := r.ReplayRoot(dir)
	for _, ph := range []picks.Phase{picks.PhaseP, picks.PhaseS} {
		if err := fs.MkdirAll(filepath.Join(replay, string(ph)), 0o755); err != nil {
			return "", fmt.Errorf("create replay dir: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Station %s.%s (%s)\n", r.Station.Network, r.Station.Code, r.Station)
	fmt.Fprintf(&b, "radius_km=%s start=%s end=%s max_picks=%d n_trials=%d\n\n",
		strconv.FormatFloat(r.RadiusKm, 'f', -1, 64),
		r.Start.UTC().Format(time.DateTime), r.End.UTC().Format(time.DateTime), r.MaxPicks, r.NTrials)
	b.WriteString(score.FormatTable(r.Collector))
	b.WriteString("\n")

	for _, ph := range []picks.Phase{picks.PhaseP, picks.PhaseS} {
		ids := EventIDs(r.Entries[ph], r.Station)
		fmt.Fprintf(&b, "\n%s event_ids (%d):\n%s\n", ph, len(ids), strings.Join(ids, ","))
	}

	r.writeCommands(&b, "best", r.BestXML, replay)
	r.writeCommands(&b, "reference", r.ReferenceXML, replay)

	path := filepath.Join(dir, r.FileName())
	if err := fs.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (r *Report) writeCommands(b *strings.Builder, label string, xml map[picks.Phase]string, replay string) {
	for _, ph := range []picks.Phase{picks.PhaseP, picks.PhaseS} {
		cfg, ok := xml[ph]
		if !ok || len(r.Entries[ph]) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n%s scautopick commands using %s XML:\n", ph, label)
		for _, e := range r.Entries[ph] {
			inv := picker.Invocation{
				Phase:      ph,
				Waveform:   e.Path,
				ConfigPath: cfg,
				ResultPath: picker.ResultPath(filepath.Join(replay, string(ph)), e.Path),
			}
			b.WriteString(picker.ReplayCommand(r.Binary, r.Inventory, inv))
			b.WriteString("\n")
		}
	}
}
