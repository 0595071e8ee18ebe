package picker

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/picktune/internal/params"
	"github.com/banshee-data/picktune/internal/picks"
)

// ConfigNamespace is the SeisComP schema of generated config documents.
const ConfigNamespace = "http://geofon.gfz-potsdam.de/ns/seiscomp3-schema/0.10"

type configDoc struct {
	XMLName xml.Name  `xml:"seiscomp"`
	Xmlns   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Config  configSet `xml:"Config"`
}

type configSet struct {
	ParameterSets []parameterSet `xml:"parameterSet"`
	Module        configModule   `xml:"module"`
}

type parameterSet struct {
	PublicID   string         `xml:"publicID,attr"`
	Created    string         `xml:"created,attr"`
	BaseID     string         `xml:"baseID,omitempty"`
	ModuleID   string         `xml:"moduleID"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	PublicID string `xml:"publicID,attr"`
	Name     string `xml:"name"`
	Value    string `xml:"value"`
}

type configModule struct {
	PublicID string        `xml:"publicID,attr"`
	Name     string        `xml:"name,attr"`
	Enabled  string        `xml:"enabled,attr"`
	Station  configStation `xml:"station"`
}

type configStation struct {
	PublicID     string       `xml:"publicID,attr"`
	NetworkCode  string       `xml:"networkCode,attr"`
	StationCode  string       `xml:"stationCode,attr"`
	Enabled      string       `xml:"enabled,attr"`
	CreationInfo creationInfo `xml:"creationInfo"`
	Setups       []setup      `xml:"setup"`
}

type creationInfo struct {
	AgencyID     string `xml:"agencyID"`
	Author       string `xml:"author"`
	CreationTime string `xml:"creationTime"`
}

type setup struct {
	Name           string `xml:"name,attr"`
	Enabled        string `xml:"enabled,attr"`
	ParameterSetID string `xml:"parameterSetID"`
}

// defaultSetKeys go to the station's default parameter set; every other
// parameter belongs to the picker set.
var defaultSetKeys = map[string]bool{"detecStream": true, "detecLocid": true}

// BuildConfig renders a SeisComP Config document binding ps to station.
// label distinguishes parameter ids of candidate and reference documents.
func BuildConfig(station picks.Station, ps []params.Param, label string, created time.Time) ([]byte, error) {
	now := created.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	base := fmt.Sprintf("ParameterSet/trunk/Station/%s/%s", station.Network, station.Code)
	defaultID, pickID, gapsID := base+"/default", base+"/pickbayes", base+"/gaps"

	idx := 0
	param := func(name, value string) xmlParameter {
		p := xmlParameter{PublicID: fmt.Sprintf("Parameter/%s/%d", label, idx), Name: name, Value: value}
		idx++
		return p
	}

	def := parameterSet{PublicID: defaultID, Created: now, ModuleID: "Config/trunk"}
	pick := parameterSet{PublicID: pickID, Created: now, BaseID: defaultID, ModuleID: "Config/trunk"}
	for _, p := range ps {
		if defaultSetKeys[p.Name] {
			def.Parameters = append(def.Parameters, param(p.Name, p.Value))
		}
	}
	for _, p := range ps {
		if !defaultSetKeys[p.Name] {
			pick.Parameters = append(pick.Parameters, param(p.Name, p.Value))
		}
	}
	gaps := parameterSet{PublicID: gapsID, Created: now, BaseID: defaultID, ModuleID: "Config/trunk",
		Parameters: []xmlParameter{param("enable", "true")}}

	doc := configDoc{
		Xmlns:   ConfigNamespace,
		Version: "0.10",
		Config: configSet{
			ParameterSets: []parameterSet{def, pick, gaps},
			Module: configModule{
				PublicID: "Config/trunk", Name: "trunk", Enabled: "true",
				Station: configStation{
					PublicID:    fmt.Sprintf("Config/trunk/%s/%s", station.Network, station.Code),
					NetworkCode: station.Network,
					StationCode: station.Code,
					Enabled:     "true",
					CreationInfo: creationInfo{
						AgencyID: "AUTOTUNER", Author: "picktune", CreationTime: now,
					},
					Setups: []setup{
						{Name: "default", Enabled: "true", ParameterSetID: defaultID},
						{Name: "scautopick", Enabled: "true", ParameterSetID: pickID},
						{Name: "gaps", Enabled: "true", ParameterSetID: gapsID},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ConfigParams extracts the name/value pairs of a Config document in
// document order.
func ConfigParams(data []byte) ([]params.Param, error) {
	var doc configDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var out []params.Param
	for _, set := range doc.Config.ParameterSets {
		for _, p := range set.Parameters {
			out = append(out, params.Param{Name: p.Name, Value: p.Value})
		}
	}
	return out, nil
}

type eventParameters struct {
	XMLName xml.Name `xml:"seiscomp"`
	Picks   []struct {
		Time struct {
			Value string `xml:"value"`
		} `xml:"time"`
		PhaseHint string `xml:"phaseHint"`
	} `xml:"EventParameters>pick"`
}

// ParsePicks returns the times of the picks in a SeisComP EventParameters
// document whose phase hint is phase. Any schema version is accepted.
func ParsePicks(data []byte, phase picks.Phase) ([]time.Time, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedResult)
	}
	var doc eventParameters
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	var out []time.Time
	for _, p := range doc.Picks {
		if picks.Phase(strings.TrimSpace(p.PhaseHint)) != phase {
			continue
		}
		t, err := parsePickTime(strings.TrimSpace(p.Time.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func parsePickTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid pick time %q", s)
}
