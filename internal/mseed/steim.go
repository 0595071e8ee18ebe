package mseed

import (
	"encoding/binary"
	"fmt"
)

const (
	steimFrameSize = 64
	wordsPerFrame  = 16
)

// decodeSteim expands Steim-1 (level 1) or Steim-2 (level 2) frames into n
// samples. The first difference of a record refers to the previous record
// and is ignored; the forward integration constant seeds the series.
func decodeSteim(p []byte, n int, order binary.ByteOrder, level int) ([]float64, error) {
	if n == 0 {
		return nil, nil
	}
	frames := len(p) / steimFrameSize
	if frames == 0 {
		return nil, fmt.Errorf("steim%d payload shorter than one frame", level)
	}

	diffs := make([]int32, 0, n)
	var x0, xn int32
	for f := 0; f < frames && len(diffs) < n; f++ {
		frame := p[f*steimFrameSize : (f+1)*steimFrameSize]
		ctrl := order.Uint32(frame[0:4])
		for w := 1; w < wordsPerFrame; w++ {
			word := order.Uint32(frame[w*4 : w*4+4])
			if f == 0 && w == 1 {
				x0 = int32(word)
				continue
			}
			if f == 0 && w == 2 {
				xn = int32(word)
				continue
			}
			nibble := (ctrl >> uint(30-2*w)) & 0x3
			var err error
			if level == 1 {
				diffs = appendSteim1(diffs, nibble, word)
			} else {
				diffs, err = appendSteim2(diffs, nibble, word)
				if err != nil {
					return nil, fmt.Errorf("frame %d word %d: %w", f, w, err)
				}
			}
		}
	}
	if len(diffs) < n {
		return nil, fmt.Errorf("steim%d frames hold %d differences, header says %d samples", level, len(diffs), n)
	}

	out := make([]float64, n)
	acc := x0
	out[0] = float64(acc)
	for i := 1; i < n; i++ {
		acc += diffs[i]
		out[i] = float64(acc)
	}
	if acc != xn {
		return nil, fmt.Errorf("steim%d integrity check failed: last sample %d, reverse constant %d", level, acc, xn)
	}
	return out, nil
}

func appendSteim1(diffs []int32, nibble, word uint32) []int32 {
	switch nibble {
	case 1:
		for shift := 24; shift >= 0; shift -= 8 {
			diffs = append(diffs, int32(int8(word>>uint(shift))))
		}
	case 2:
		diffs = append(diffs, int32(int16(word>>16)), int32(int16(word)))
	case 3:
		diffs = append(diffs, int32(word))
	}
	return diffs
}

func appendSteim2(diffs []int32, nibble, word uint32) ([]int32, error) {
	dnib := word >> 30
	switch nibble {
	case 0:
		return diffs, nil
	case 1:
		for shift := 24; shift >= 0; shift -= 8 {
			diffs = append(diffs, int32(int8(word>>uint(shift))))
		}
		return diffs, nil
	case 2:
		switch dnib {
		case 1:
			return unpack(diffs, word, 1, 30), nil
		case 2:
			return unpack(diffs, word, 2, 15), nil
		case 3:
			return unpack(diffs, word, 3, 10), nil
		}
	case 3:
		switch dnib {
		case 0:
			return unpack(diffs, word, 5, 6), nil
		case 1:
			return unpack(diffs, word, 6, 5), nil
		case 2:
			return unpack(diffs, word, 7, 4), nil
		}
	}
	return nil, fmt.Errorf("invalid steim2 nibble %d/dnib %d", nibble, dnib)
}

// unpack extracts count sign-extended values of width bits, most significant
// first, from the low 30 bits of word.
func unpack(diffs []int32, word uint32, count, width int) []int32 {
	mask := uint32(1)<<uint(width) - 1
	for i := count - 1; i >= 0; i-- {
		v := (word >> uint(i*width)) & mask
		diffs = append(diffs, signExtend(v, width))
	}
	return diffs
}

func signExtend(v uint32, width int) int32 {
	shift := uint(32 - width)
	return int32(v<<shift) >> shift
}
