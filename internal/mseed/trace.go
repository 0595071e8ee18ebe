package mseed

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Trace is a contiguous, evenly sampled time series for one channel.
type Trace struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Start      time.Time
	SampleRate float64
	Samples    []float64
}

// ID returns "NET.STA.LOC.CHA".
func (t *Trace) ID() string {
	return fmt.Sprintf("%s.%s.%s.%s", t.Network, t.Station, t.Location, t.Channel)
}

// Delta is the sample interval.
func (t *Trace) Delta() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / t.SampleRate)
}

// TimeAt returns the time of sample i.
func (t *Trace) TimeAt(i int) time.Time {
	if t.SampleRate <= 0 {
		return t.Start
	}
	return t.Start.Add(time.Duration(math.Round(float64(i) / t.SampleRate * float64(time.Second))))
}

// End returns the time of the last sample.
func (t *Trace) End() time.Time {
	if len(t.Samples) == 0 {
		return t.Start
	}
	return t.TimeAt(len(t.Samples) - 1)
}

// Copy returns a deep copy.
func (t *Trace) Copy() *Trace {
	c := *t
	c.Samples = append([]float64(nil), t.Samples...)
	return &c
}

// Stream is an ordered collection of traces.
type Stream struct {
	Traces []*Trace
}

// Len returns the number of traces.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Traces)
}

// Copy returns a deep copy.
func (s *Stream) Copy() *Stream {
	out := &Stream{Traces: make([]*Trace, len(s.Traces))}
	for i, tr := range s.Traces {
		out.Traces[i] = tr.Copy()
	}
	return out
}

// Sort orders traces by channel code, then location, then start time.
func (s *Stream) Sort() {
	sort.SliceStable(s.Traces, func(i, j int) bool {
		a, b := s.Traces[i], s.Traces[j]
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Start.Before(b.Start)
	})
}

// Trim cuts every trace to the samples inside [start, end]. Traces left
// without samples are dropped.
func (s *Stream) Trim(start, end time.Time) {
	kept := s.Traces[:0]
	for _, tr := range s.Traces {
		if tr.SampleRate <= 0 || len(tr.Samples) == 0 {
			continue
		}
		first := int(math.Ceil(start.Sub(tr.Start).Seconds()*tr.SampleRate - 1e-6))
		if first < 0 {
			first = 0
		}
		last := int(math.Floor(end.Sub(tr.Start).Seconds()*tr.SampleRate + 1e-6))
		if last > len(tr.Samples)-1 {
			last = len(tr.Samples) - 1
		}
		if first > last {
			continue
		}
		tr.Start = tr.TimeAt(first)
		tr.Samples = tr.Samples[first : last+1]
		kept = append(kept, tr)
	}
	s.Traces = kept
}

// Merge joins traces that share an id into one trace each. Gaps are
// filled by linear interpolation between the samples either side;
// overlapping samples keep the earlier trace's values.
func (s *Stream) Merge() {
	groups := map[string][]*Trace{}
	var order []string
	for _, tr := range s.Traces {
		id := tr.ID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], tr)
	}

	merged := make([]*Trace, 0, len(order))
	for _, id := range order {
		parts := groups[id]
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].Start.Before(parts[j].Start) })
		out := parts[0].Copy()
		for _, next := range parts[1:] {
			appendInterpolated(out, next)
		}
		merged = append(merged, out)
	}
	s.Traces = merged
}

// appendInterpolated extends dst with src, which must start no earlier
// than dst.
func appendInterpolated(dst, src *Trace) {
	if len(src.Samples) == 0 {
		return
	}
	if len(dst.Samples) == 0 {
		dst.Start = src.Start
		dst.Samples = append(dst.Samples, src.Samples...)
		return
	}
	// Offset of src's first sample from dst's start, in samples.
	offset := int(math.Round(src.Start.Sub(dst.Start).Seconds() * dst.SampleRate))
	n := len(dst.Samples)
	switch {
	case offset >= n:
		gap := offset - n
		a, b := dst.Samples[n-1], src.Samples[0]
		for k := 1; k <= gap; k++ {
			dst.Samples = append(dst.Samples, a+(b-a)*float64(k)/float64(gap+1))
		}
		dst.Samples = append(dst.Samples, src.Samples...)
	case offset+len(src.Samples) > n:
		dst.Samples = append(dst.Samples, src.Samples[n-offset:]...)
	}
}

// Select returns the traces whose channel starts with prefix.
func (s *Stream) Select(prefix string) *Stream {
	out := &Stream{}
	for _, tr := range s.Traces {
		if len(tr.Channel) >= len(prefix) && tr.Channel[:len(prefix)] == prefix {
			out.Traces = append(out.Traces, tr)
		}
	}
	return out
}

// assemble joins consecutive records of each channel into traces. A record
// continues the current trace when its start lies within half a sample of
// the expected time.
func assemble(recs []record) *Stream {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		ida := a.Network + "." + a.Station + "." + a.Location + "." + a.Channel
		idb := b.Network + "." + b.Station + "." + b.Location + "." + b.Channel
		if ida != idb {
			return ida < idb
		}
		return a.Start.Before(b.Start)
	})

	s := &Stream{}
	var cur *Trace
	for _, r := range recs {
		if len(r.samples) == 0 {
			continue
		}
		if cur != nil && cur.Network == r.Network && cur.Station == r.Station &&
			cur.Location == r.Location && cur.Channel == r.Channel && cur.SampleRate == r.SampleRate {
			expected := cur.TimeAt(len(cur.Samples))
			if math.Abs(r.Start.Sub(expected).Seconds()) <= 0.5/r.SampleRate {
				cur.Samples = append(cur.Samples, r.samples...)
				continue
			}
		}
		cur = &Trace{
			Network:    r.Network,
			Station:    r.Station,
			Location:   r.Location,
			Channel:    r.Channel,
			Start:      r.Start,
			SampleRate: r.SampleRate,
			Samples:    append([]float64(nil), r.samples...),
		}
		s.Traces = append(s.Traces, cur)
	}
	return s
}
