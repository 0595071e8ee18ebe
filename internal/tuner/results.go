package tuner

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
)

// ErrNoPResult is returned when S tuning finds no tuned P row for the
// station.
var ErrNoPResult = errors.New("no tuned P parameters")

const scoreColumn = "best_f1"

// Result columns after net.sta and before best_f1.
var resultColumns = map[picks.Phase][]string{
	picks.PhaseP: {"p_sta", "p_sta_width", "p_fmin", "p_fwidth", "aic_fmin", "aic_fwidth", "p_timecorr", "p_snr", "trig_on"},
	picks.PhaseS: {"s_fmin", "s_fwidth", "s_snr"},
}

// ResultHeader returns the CSV header of the phase's results file.
func ResultHeader(phase picks.Phase) []string {
	h := append([]string{"net.sta"}, resultColumns[phase]...)
	return append(h, scoreColumn)
}

// AppendResult appends the best configuration of a station to the results
// file, writing the header first when the file is new.
func AppendResult(fs fsutil.FileSystem, path string, phase picks.Phase, netSta string, cfg params.Configuration, score float64) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if !fs.Exists(path) {
		if err := w.Write(ResultHeader(phase)); err != nil {
			return err
		}
	}
	row := []string{netSta}
	for _, name := range resultColumns[phase] {
		row = append(row, params.FormatValue(cfg[name]))
	}
	row = append(row, strconv.FormatFloat(score, 'f', -1, 64))
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := fs.AppendFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// BestResult returns the highest scoring row of netSta in a results file.
// The first row wins a tie. Values parse as int, float64 or string.
func BestResult(fs fsutil.FileSystem, path, netSta string) (params.Configuration, float64, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", netSta, ErrNoPResult)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("%s: %w", netSta, ErrNoPResult)
	}
	header := rows[0]
	scoreIdx := -1
	for i, h := range header {
		if h == scoreColumn {
			scoreIdx = i
		}
	}
	if scoreIdx < 0 || header[0] != "net.sta" {
		return nil, 0, fmt.Errorf("%s: unexpected header %s", path, strings.Join(header, ","))
	}

	var best params.Configuration
	bestScore := 0.0
	for _, row := range rows[1:] {
		if len(row) != len(header) || row[0] != netSta {
			continue
		}
		score, err := strconv.ParseFloat(row[scoreIdx], 64)
		if err != nil {
			continue
		}
		if best != nil && score <= bestScore {
			continue
		}
		best = params.Configuration{}
		for i := 1; i < len(header); i++ {
			if i == scoreIdx || row[i] == "" {
				continue
			}
			best[header[i]] = params.ParseValue(row[i])
		}
		bestScore = score
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%s: %w", netSta, ErrNoPResult)
	}
	return best, bestScore, nil
}
