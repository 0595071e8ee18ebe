package picks

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var base = time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)

func obsAt(id string, offset time.Duration, half time.Duration) Observation {
	return NewObservation(id, PhaseP, base.Add(offset), half)
}

func ids(obs []Observation) []string {
	out := make([]string, len(obs))
	for i, o := range obs {
		out[i] = o.ID
	}
	return out
}

func TestDedup(t *testing.T) {
	half := 30 * time.Second
	tests := []struct {
		name string
		in   []Observation
		want []string
	}{
		{name: "empty", in: nil, want: []string{}},
		{name: "single", in: []Observation{obsAt("a", 0, half)}, want: []string{"a"}},
		{
			name: "well separated",
			in:   []Observation{obsAt("a", 0, half), obsAt("b", 2*time.Minute, half), obsAt("c", 4*time.Minute, half)},
			want: []string{"a", "b", "c"},
		},
		{
			name: "adjacent pair both removed",
			in:   []Observation{obsAt("a", 0, half), obsAt("b", 10*time.Second, half), obsAt("c", 5*time.Minute, half)},
			want: []string{"c"},
		},
		{
			name: "exactly on the window edge is kept",
			in:   []Observation{obsAt("a", 0, half), obsAt("b", half, half)},
			want: []string{"a", "b"},
		},
		{
			name: "middle removed, ends kept",
			// b's wide window captures both neighbours; theirs capture nothing.
			in:   []Observation{obsAt("a", 0, 30*time.Second), obsAt("b", 50*time.Second, 60*time.Second), obsAt("c", 100*time.Second, 30*time.Second)},
			want: []string{"a", "c"},
		},
		{
			name: "only neighbours are compared",
			// c's window also covers a, which is not its neighbour.
			in:   []Observation{obsAt("a", 0, 10*time.Second), obsAt("b", 20*time.Second, 5*time.Second), obsAt("c", 40*time.Second, 50*time.Second)},
			want: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Dedup(tt.in))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Dedup mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDedup_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	half := 20 * time.Second
	for iter := 0; iter < 300; iter++ {
		n := rng.Intn(8)
		obs := make([]Observation, n)
		offset := time.Duration(0)
		for i := range obs {
			offset += time.Duration(rng.Intn(60)+1) * time.Second
			obs[i] = obsAt(string(rune('a'+i)), offset, half)
		}
		kept := map[string]bool{}
		for _, o := range Dedup(obs) {
			kept[o.ID] = true
		}
		for i, o := range obs {
			capturesNeighbour := (i > 0 && o.captures(obs[i-1].Time)) ||
				(i < n-1 && o.captures(obs[i+1].Time))
			if capturesNeighbour && kept[o.ID] {
				t.Fatalf("iter %d: %s captures a neighbour but was kept", iter, o.ID)
			}
			if !capturesNeighbour && !kept[o.ID] {
				t.Fatalf("iter %d: %s captures no neighbour but was removed", iter, o.ID)
			}
		}
	}
}

func TestRegistry(t *testing.T) {
	st := Station{Network: "CM", Code: "BAR2", Channel: "HH"}
	r := NewRegistry(st, PhaseS, []Observation{
		obsAt("late", 10*time.Minute, time.Minute),
		obsAt("early", 0, time.Minute),
		obsAt("close", 30*time.Second, time.Minute),
	})
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if diff := cmp.Diff([]string{"early", "close", "late"}, r.EventIDs()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"late"}, ids(r.Dedup())); diff != "" {
		t.Errorf("Dedup mismatch (-want +got):\n%s", diff)
	}
	if r.Phase() != PhaseS || r.Station().Code != "BAR2" {
		t.Errorf("unexpected identity %v %v", r.Phase(), r.Station())
	}

	// Observations returns a copy.
	o := r.Observations()
	o[0].ID = "mutated"
	if r.EventIDs()[0] != "early" {
		t.Error("Observations leaked internal slice")
	}
}

func TestObservation(t *testing.T) {
	o := NewObservation("ev1", PhaseP, base, 3*time.Minute)
	if got := o.Duration(); got != 6*time.Minute {
		t.Errorf("Duration = %v", got)
	}
	if o.IsNoise() || !o.HasPick() {
		t.Error("pick observation reported as noise")
	}
	noise := Observation{ID: "ev1" + NoiseSuffix, Phase: PhaseP, WindowStart: base, WindowEnd: base.Add(time.Minute)}
	if !noise.IsNoise() {
		t.Error("noise observation not reported as noise")
	}
}

func TestObservations_DropsRepeatedEvents(t *testing.T) {
	rows := []ManualPick{
		{EventID: "e1", Time: base},
		{EventID: "e1", Time: base.Add(time.Second)},
		{EventID: "e2", Time: base.Add(time.Hour)},
	}
	obs := Observations(rows, PhaseP, time.Minute)
	if diff := cmp.Diff([]string{"e1", "e2"}, ids(obs)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !obs[0].WindowStart.Equal(base.Add(-time.Minute)) {
		t.Errorf("WindowStart = %v", obs[0].WindowStart)
	}
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{"p": PhaseP, " S ": PhaseS} {
		got, err := ParsePhase(in)
		if err != nil || got != want {
			t.Errorf("ParsePhase(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePhase("Pn"); err == nil {
		t.Error("expected error for Pn")
	}
}

func TestParseStationRef(t *testing.T) {
	tests := []struct {
		in      string
		want    StationRef
		wantErr bool
	}{
		{in: "CM.BAR2", want: StationRef{Network: "CM", Code: "BAR2", Channel: "HH"}},
		{in: "CM.BAR2.00", want: StationRef{Network: "CM", Code: "BAR2", Location: "00", Channel: "HH"}},
		{in: "CM.BAR2.00.EH", want: StationRef{Network: "CM", Code: "BAR2", Location: "00", Channel: "EH"}},
		{in: "CM", wantErr: true},
		{in: ".BAR2", wantErr: true},
		{in: "a.b.c.d.e", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStationRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDistanceKm(t *testing.T) {
	// One degree of latitude is about 111.19 km.
	d := DistanceKm(0, 0, 1, 0)
	if math.Abs(d-111.19) > 0.01 {
		t.Errorf("DistanceKm = %.4f, want ~111.19", d)
	}
	if DistanceKm(4.5, -74, 4.5, -74) != 0 {
		t.Error("distance to self should be 0")
	}
}
