package search

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/picktune/internal/params"
)

// WriteTrialsCSV writes one row per trial: number, the named parameters,
// score and rejection reason.
func WriteTrialsCSV(w io.Writer, names []string, trials []Trial) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{"trial"}, names...), "score", "rejected")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range trials {
		row := []string{strconv.Itoa(t.Number)}
		for _, n := range names {
			row = append(row, params.FormatValue(t.Config[n]))
		}
		reason := ""
		if t.Err != nil {
			reason = t.Err.Error()
		}
		row = append(row, strconv.FormatFloat(t.Score, 'f', 6, 64), reason)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write trial %d: %w", t.Number, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
