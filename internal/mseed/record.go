// Package mseed reads and writes SEED 2.4 data-only (miniSEED) records.
//
// Reading supports the encodings FDSN data centres serve: 16 and 32 bit
// integers, IEEE floats and Steim-1/Steim-2 compression. Writing always
// uses FLOAT64 so that a trace written and read back is bit-identical.
package mseed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Data encoding formats from blockette 1000.
const (
	EncodingASCII   = 0
	EncodingInt16   = 1
	EncodingInt32   = 3
	EncodingFloat32 = 4
	EncodingFloat64 = 5
	EncodingSteim1  = 10
	EncodingSteim2  = 11
)

const (
	fixedHeaderSize = 48
	blocketteSize   = 8
	// DefaultRecordLength is the record size used when writing.
	DefaultRecordLength = 4096
)

// ErrUnsupportedEncoding is returned for record encodings this package
// cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported miniSEED encoding")

// header is the decoded fixed section plus the fields of blockettes 1000
// and 1001 that matter for decoding.
type header struct {
	Sequence     int
	Quality      byte
	Station      string
	Location     string
	Channel      string
	Network      string
	Start        time.Time
	NumSamples   int
	SampleRate   float64
	DataOffset   int
	Encoding     int
	ByteOrder    binary.ByteOrder
	RecordLength int
}

// record is one decoded data record.
type record struct {
	header
	samples []float64
}

// parseHeader decodes the fixed header and walks the blockette chain.
func parseHeader(data []byte) (header, error) {
	if len(data) < fixedHeaderSize {
		return header{}, fmt.Errorf("short record: %d bytes", len(data))
	}

	// The header byte order is not flagged anywhere; a plausible year
	// decides it.
	var order binary.ByteOrder = binary.BigEndian
	if y := order.Uint16(data[20:22]); y < 1900 || y > 2100 {
		order = binary.LittleEndian
	}

	h := header{
		Quality:   data[6],
		Station:   strings.TrimSpace(string(data[8:13])),
		Location:  strings.TrimSpace(string(data[13:15])),
		Channel:   strings.TrimSpace(string(data[15:18])),
		Network:   strings.TrimSpace(string(data[18:20])),
		ByteOrder: order,
	}
	h.Sequence, _ = strconv.Atoi(strings.TrimSpace(string(data[0:6])))

	year := int(order.Uint16(data[20:22]))
	doy := int(order.Uint16(data[22:24]))
	hour, minute, sec := int(data[24]), int(data[25]), int(data[26])
	fract := int(order.Uint16(data[28:30]))
	h.Start = time.Date(year, 1, 1, hour, minute, sec, fract*100000, time.UTC).AddDate(0, 0, doy-1)

	h.NumSamples = int(order.Uint16(data[30:32]))
	h.SampleRate = sampleRate(int16(order.Uint16(data[32:34])), int16(order.Uint16(data[34:36])))

	activity := data[36]
	correction := int32(order.Uint32(data[40:44]))
	h.DataOffset = int(order.Uint16(data[44:46]))
	next := int(order.Uint16(data[46:48]))

	// Bit 1 of the activity flags says the time correction is already applied.
	if activity&0x02 == 0 && correction != 0 {
		h.Start = h.Start.Add(time.Duration(correction) * 100 * time.Microsecond)
	}

	h.Encoding = -1
	for hops := 0; next != 0 && hops < 16; hops++ {
		if next+4 > len(data) {
			return header{}, fmt.Errorf("blockette offset %d beyond record", next)
		}
		btype := order.Uint16(data[next : next+2])
		following := int(order.Uint16(data[next+2 : next+4]))
		switch btype {
		case 1000:
			if next+8 > len(data) {
				return header{}, errors.New("truncated blockette 1000")
			}
			h.Encoding = int(data[next+4])
			if data[next+5] == 0 {
				h.ByteOrder = binary.LittleEndian
			} else {
				h.ByteOrder = binary.BigEndian
			}
			h.RecordLength = 1 << data[next+6]
			if h.RecordLength < fixedHeaderSize {
				return header{}, fmt.Errorf("record length 2^%d too small", data[next+6])
			}
		case 1001:
			if next+8 > len(data) {
				return header{}, errors.New("truncated blockette 1001")
			}
			h.Start = h.Start.Add(time.Duration(int8(data[next+5])) * time.Microsecond)
		}
		next = following
	}
	if h.Encoding < 0 {
		return header{}, errors.New("record has no blockette 1000")
	}
	return h, nil
}

// sampleRate applies the SEED factor/multiplier rules.
func sampleRate(factor, mult int16) float64 {
	f, m := float64(factor), float64(mult)
	switch {
	case factor == 0 || mult == 0:
		return 0
	case factor > 0 && mult > 0:
		return f * m
	case factor > 0 && mult < 0:
		return -f / m
	case factor < 0 && mult > 0:
		return -m / f
	default:
		return 1 / (f * m)
	}
}

// rateFactors is the inverse of sampleRate for the rates seismic
// instruments use.
func rateFactors(rate float64) (int16, int16) {
	switch {
	case rate <= 0:
		return 0, 0
	case rate >= 1 && rate == math.Trunc(rate) && rate <= math.MaxInt16:
		return int16(rate), 1
	case rate < 1 && 1/rate == math.Trunc(1/rate) && 1/rate <= math.MaxInt16:
		return -int16(1 / rate), 1
	default:
		return int16(math.Round(rate * 100)), -100
	}
}

// decodeRecord parses one complete record.
func decodeRecord(data []byte) (record, error) {
	h, err := parseHeader(data)
	if err != nil {
		return record{}, err
	}
	if h.RecordLength > len(data) {
		return record{}, fmt.Errorf("record length %d exceeds %d available bytes", h.RecordLength, len(data))
	}
	if h.DataOffset < fixedHeaderSize || h.DataOffset > h.RecordLength {
		if h.NumSamples == 0 {
			return record{header: h}, nil
		}
		return record{}, fmt.Errorf("invalid data offset %d", h.DataOffset)
	}
	payload := data[h.DataOffset:h.RecordLength]

	var samples []float64
	switch h.Encoding {
	case EncodingInt16:
		samples, err = decodeInts(payload, h.NumSamples, 2, h.ByteOrder)
	case EncodingInt32:
		samples, err = decodeInts(payload, h.NumSamples, 4, h.ByteOrder)
	case EncodingFloat32:
		samples, err = decodeFloat32(payload, h.NumSamples, h.ByteOrder)
	case EncodingFloat64:
		samples, err = decodeFloat64(payload, h.NumSamples, h.ByteOrder)
	case EncodingSteim1:
		samples, err = decodeSteim(payload, h.NumSamples, h.ByteOrder, 1)
	case EncodingSteim2:
		samples, err = decodeSteim(payload, h.NumSamples, h.ByteOrder, 2)
	default:
		return record{}, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, h.Encoding)
	}
	if err != nil {
		return record{}, fmt.Errorf("%s.%s.%s.%s record %d: %w", h.Network, h.Station, h.Location, h.Channel, h.Sequence, err)
	}
	return record{header: h, samples: samples}, nil
}

func decodeInts(p []byte, n, width int, order binary.ByteOrder) ([]float64, error) {
	if len(p) < n*width {
		return nil, fmt.Errorf("payload holds %d bytes, need %d", len(p), n*width)
	}
	out := make([]float64, n)
	for i := range out {
		if width == 2 {
			out[i] = float64(int16(order.Uint16(p[i*2:])))
		} else {
			out[i] = float64(int32(order.Uint32(p[i*4:])))
		}
	}
	return out, nil
}

func decodeFloat32(p []byte, n int, order binary.ByteOrder) ([]float64, error) {
	if len(p) < n*4 {
		return nil, fmt.Errorf("payload holds %d bytes, need %d", len(p), n*4)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(order.Uint32(p[i*4:])))
	}
	return out, nil
}

func decodeFloat64(p []byte, n int, order binary.ByteOrder) ([]float64, error) {
	if len(p) < n*8 {
		return nil, fmt.Errorf("payload holds %d bytes, need %d", len(p), n*8)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(p[i*8:]))
	}
	return out, nil
}

// Read decodes every data record in r into a stream. Records of the same
// channel that follow each other without a gap are joined into one trace.
func Read(r io.Reader) (*Stream, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read miniSEED: %w", err)
	}
	return Decode(data)
}

// Decode is Read for an in-memory buffer.
func Decode(data []byte) (*Stream, error) {
	var recs []record
	for off := 0; off < len(data); {
		if len(data)-off < fixedHeaderSize {
			break
		}
		if !isDataRecord(data[off+6]) {
			return nil, fmt.Errorf("offset %d: not a data record", off)
		}
		rec, err := decodeRecord(data[off:])
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}
		off += rec.RecordLength
		if rec.Encoding == EncodingASCII {
			continue
		}
		recs = append(recs, rec)
	}
	return assemble(recs), nil
}

func isDataRecord(b byte) bool {
	return b == 'D' || b == 'R' || b == 'Q' || b == 'M'
}

// Write encodes every trace of s as FLOAT64 records of DefaultRecordLength
// bytes.
func Write(w io.Writer, s *Stream) error {
	return WriteRecords(w, s, DefaultRecordLength)
}

// WriteRecords encodes s using records of recordLength bytes, which must
// be a power of two of at least 256.
func WriteRecords(w io.Writer, s *Stream, recordLength int) error {
	if recordLength < 256 || recordLength&(recordLength-1) != 0 {
		return fmt.Errorf("invalid record length %d", recordLength)
	}
	exp := byte(math.Log2(float64(recordLength)))
	dataOffset := fixedHeaderSize + 2*blocketteSize
	perRecord := (recordLength - dataOffset) / 8

	var buf bytes.Buffer
	seq := 1
	for _, tr := range s.Traces {
		factor, mult := rateFactors(tr.SampleRate)
		for first := 0; first < len(tr.Samples); first += perRecord {
			last := min(first+perRecord, len(tr.Samples))
			rec := make([]byte, recordLength)
			start := tr.TimeAt(first)
			putFixedHeader(rec, seq, tr, start, last-first, factor, mult, dataOffset)

			be := binary.BigEndian
			b := rec[fixedHeaderSize:]
			be.PutUint16(b[0:], 1000)
			be.PutUint16(b[2:], uint16(fixedHeaderSize+blocketteSize))
			b[4] = EncodingFloat64
			b[5] = 1
			b[6] = exp

			b = rec[fixedHeaderSize+blocketteSize:]
			be.PutUint16(b[0:], 1001)
			be.PutUint16(b[2:], 0)
			b[5] = byte(int8((start.Nanosecond() / 1000) % 100))

			for i, v := range tr.Samples[first:last] {
				be.PutUint64(rec[dataOffset+i*8:], math.Float64bits(v))
			}
			buf.Write(rec)
			seq = seq%999999 + 1
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func putFixedHeader(rec []byte, seq int, tr *Trace, start time.Time, n int, factor, mult int16, dataOffset int) {
	copy(rec[0:6], fmt.Sprintf("%06d", seq))
	rec[6] = 'D'
	rec[7] = ' '
	copy(rec[8:13], fmt.Sprintf("%-5s", tr.Station))
	copy(rec[13:15], fmt.Sprintf("%-2s", tr.Location))
	copy(rec[15:18], fmt.Sprintf("%-3s", tr.Channel))
	copy(rec[18:20], fmt.Sprintf("%-2s", tr.Network))

	be := binary.BigEndian
	start = start.UTC()
	be.PutUint16(rec[20:], uint16(start.Year()))
	be.PutUint16(rec[22:], uint16(start.YearDay()))
	rec[24] = byte(start.Hour())
	rec[25] = byte(start.Minute())
	rec[26] = byte(start.Second())
	be.PutUint16(rec[28:], uint16(start.Nanosecond()/100000))
	be.PutUint16(rec[30:], uint16(n))
	be.PutUint16(rec[32:], uint16(factor))
	be.PutUint16(rec[34:], uint16(mult))
	rec[39] = 2
	be.PutUint16(rec[44:], uint16(dataOffset))
	be.PutUint16(rec[46:], fixedHeaderSize)
}
