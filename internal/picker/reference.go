package picker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/banshee-data/picktune/internal/fsutil"
	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
)

// ErrNoReference is returned when no reference station file matches.
var ErrNoReference = errors.New("no reference picker configuration")

var stationFilePattern = regexp.MustCompile(`^station_([^_]+)_([^_.]+)(?:\..+)?$`)

// ResolveReference finds the station key file for net.sta. ref is either a
// file, which must name the same station when it follows the station_NET_STA
// pattern, or a directory searched for station_NET_STA, station_NET_STA.cfg,
// NET_STA and NET_STA.cfg in that order.
func ResolveReference(fs fsutil.FileSystem, ref, net, sta string) (string, error) {
	ref = filepath.Clean(ref)
	if !fs.Exists(ref) {
		return "", fmt.Errorf("%w: %s does not exist", ErrNoReference, ref)
	}
	if _, err := fs.ReadDir(ref); err != nil {
		if m := stationFilePattern.FindStringSubmatch(filepath.Base(ref)); m != nil && (m[1] != net || m[2] != sta) {
			return "", fmt.Errorf("%w: %s is not for %s.%s", ErrNoReference, ref, net, sta)
		}
		return ref, nil
	}
	for _, name := range []string{
		fmt.Sprintf("station_%s_%s", net, sta),
		fmt.Sprintf("station_%s_%s.cfg", net, sta),
		fmt.Sprintf("%s_%s", net, sta),
		fmt.Sprintf("%s_%s.cfg", net, sta),
	} {
		p := filepath.Join(ref, name)
		if _, err := fs.ReadDir(p); err == nil {
			continue
		}
		if fs.Exists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none for %s.%s in %s", ErrNoReference, net, sta, ref)
}

// LoadStationParams reads a key = value station file. Comments start with
// '#', surrounding quotes are stripped and a repeated key keeps its first
// position with the last value.
func LoadStationParams(fs fsutil.FileSystem, path string) ([]params.Param, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station file: %w", err)
	}
	var out []params.Param
	index := map[string]int{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), stripQuotes(value)
		if i, seen := index[key]; seen {
			out[i].Value = value
			continue
		}
		index[key] = len(out)
		out = append(out, params.Param{Name: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan station file: %w", err)
	}
	return out, nil
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == s[len(s)-1] && (s[0] == '"' || s[0] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// ReferenceParams orders station file parameters for a config document:
// detecStream and detecLocid first, defaulting to the station's channel and
// location, then the picker parameters with trigOff and timeCorr defaults.
func ReferenceParams(station picks.Station, file []params.Param) []params.Param {
	stream, ok := params.Lookup(file, "detecStream")
	if !ok {
		stream = station.Channel
	}
	locid, ok := params.Lookup(file, "detecLocid")
	if !ok {
		locid = station.Location
	}
	out := []params.Param{{Name: "detecStream", Value: stream}, {Name: "detecLocid", Value: locid}}
	for _, p := range file {
		if !defaultSetKeys[p.Name] {
			out = append(out, p)
		}
	}
	if _, ok := params.Lookup(file, "trigOff"); !ok {
		out = append(out, params.Param{Name: "trigOff", Value: "1"})
	}
	if _, ok := params.Lookup(file, "timeCorr"); !ok {
		out = append(out, params.Param{Name: "timeCorr", Value: "0.0"})
	}
	return out
}

// LoadReference resolves and loads the reference parameters of station.
func LoadReference(fs fsutil.FileSystem, ref string, station picks.Station) ([]params.Param, string, error) {
	path, err := ResolveReference(fs, ref, station.Network, station.Code)
	if err != nil {
		return nil, "", err
	}
	file, err := LoadStationParams(fs, path)
	if err != nil {
		return nil, "", err
	}
	return ReferenceParams(station, file), path, nil
}
