// Package picker renders scautopick configurations and runs the picker
// over single waveforms.
package picker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
	"github.com/banshee-data/picktune/internal/timeutil"
)

var (
	// ErrProcessFailed is returned when the picker exits with an error or
	// is killed.
	ErrProcessFailed = errors.New("picker process failed")
	// ErrMalformedResult is returned when the picker output cannot be
	// parsed.
	ErrMalformedResult = errors.New("malformed picker result")
)

// RenderRequest describes one configuration document. Params, when set, is
// written as is; otherwise Config is rendered through the template table.
type RenderRequest struct {
	Station picks.Station
	Phase   picks.Phase
	Config  params.Configuration
	Params  []params.Param
	// Path is the output file.
	Path string
	// Label tags parameter ids, e.g. "candidate" or "reference".
	Label string
}

// Invocation runs the picker once.
type Invocation struct {
	Phase      picks.Phase
	Waveform   string
	ConfigPath string
	// ResultPath receives the picker's standard output.
	ResultPath string
}

// Picker renders configurations and produces picks.
type Picker interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
	Invoke(ctx context.Context, inv Invocation) ([]time.Time, error)
}

// ResultPath returns "<dir>/<waveform basename without extension>_picks.xml".
func ResultPath(dir, waveform string) string {
	base := filepath.Base(waveform)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_picks.xml")
}

// RenderParams returns the rendered parameters of req.
func RenderParams(req RenderRequest) []params.Param {
	if req.Params != nil {
		return req.Params
	}
	data := req.Config.Merge(params.Configuration{"ch": req.Station.Channel, "loc": req.Station.Location})
	return params.Render(data)
}

// Scautopick runs the SeisComP scautopick binary in playback mode.
type Scautopick struct {
	Binary    string
	Inventory string
	// Timeout bounds one invocation; zero means no limit.
	Timeout  time.Duration
	FS       fsutil.FileSystem
	Commands CommandBuilder
	Clock    timeutil.Clock
}

// NewScautopick returns a picker running binary against inventory.
func NewScautopick(binary, inventory string, fs fsutil.FileSystem) *Scautopick {
	return &Scautopick{
		Binary:    binary,
		Inventory: inventory,
		FS:        fs,
		Commands:  NewRealCommandBuilder(),
		Clock:     timeutil.RealClock{},
	}
}

// Render writes the configuration document and returns its path.
func (s *Scautopick) Render(_ context.Context, req RenderRequest) (string, error) {
	label := req.Label
	if label == "" {
		label = "candidate"
	}
	doc, err := BuildConfig(req.Station, RenderParams(req), label, s.Clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.FS.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := s.FS.WriteFile(req.Path, doc, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return req.Path, nil
}

// Args returns the scautopick command line for inv.
func (s *Scautopick) Args(inv Invocation) []string {
	return playbackArgs(s.Inventory, inv)
}

func playbackArgs(inventory string, inv Invocation) []string {
	return []string{
		"-I", inv.Waveform,
		"--config-db", inv.ConfigPath,
		"--amplitudes", "0",
		"--inventory-db", inventory,
		"--playback", "--ep",
	}
}

// ReplayCommand returns a shell line that replays inv with binary and opens
// the result next to the waveform in scrttv.
func ReplayCommand(binary, inventory string, inv Invocation) string {
	args := append([]string{binary}, playbackArgs(inventory, inv)...)
	return fmt.Sprintf("%s > %s; scrttv %s -i %s", strings.Join(args, " "), inv.ResultPath, inv.Waveform, inv.ResultPath)
}

// Invoke runs scautopick over one waveform, stores its output at
// inv.ResultPath and returns the picks of inv.Phase.
func (s *Scautopick) Invoke(ctx context.Context, inv Invocation) ([]time.Time, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	out, err := s.Commands.BuildCommand(ctx, s.Binary, s.Args(inv)...).Run()
	if werr := s.FS.WriteFile(inv.ResultPath, out, 0o644); werr != nil {
		monitoring.Logf("[picker] could not store result %s: %v", inv.ResultPath, werr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessFailed, filepath.Base(inv.Waveform), err)
	}
	return ParsePicks(out, inv.Phase)
}
