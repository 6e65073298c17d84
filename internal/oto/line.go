package oto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Line is one parsed oto.ini line.
type Line struct {
	Filename string
	Alias    string
	Entry    Entry
}

// SamplesToMS converts a sample count to milliseconds rounded to 0.1 ms.
func SamplesToMS(s int64, rate int) float64 {
	return math.Round(float64(s)*10000/float64(rate)) / 10
}

// MSToSamples converts milliseconds to the nearest sample count.
func MSToSamples(ms float64, rate int) int64 {
	return int64(math.Round(ms * float64(rate) / 1000))
}

// FormatLine renders e as
//
//	filename=alias,offset,consonant,cutoff,preutterance,overlap
//
// in milliseconds with one decimal. Cutoff stays negative.
func FormatLine(filename, alias string, e Entry, sampleRate int) string {
	f := func(s int64) string {
		return strconv.FormatFloat(SamplesToMS(s, sampleRate), 'f', 1, 64)
	}
	return fmt.Sprintf("%s=%s,%s,%s,%s,%s,%s",
		filename, alias,
		f(e.Offset), f(e.Consonant), f(e.Cutoff), f(e.PreUtterance), f(e.Overlap))
}

// ParseLine parses a line written by [FormatLine] back into samples at
// sampleRate.
func ParseLine(line string, sampleRate int) (Line, error) {
	filename, rest, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || filename == "" {
		return Line{}, fmt.Errorf("oto: parse line %q: missing filename", line)
	}
	fields := strings.Split(rest, ",")
	if len(fields) != 6 {
		return Line{}, fmt.Errorf("oto: parse line %q: want 6 fields after '=', got %d", line, len(fields))
	}
	var ms [5]float64
	for i, s := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Line{}, fmt.Errorf("oto: parse line %q: field %d: %w", line, i+2, err)
		}
		ms[i] = v
	}
	return Line{
		Filename: filename,
		Alias:    fields[0],
		Entry: Entry{
			Offset:       MSToSamples(ms[0], sampleRate),
			Consonant:    MSToSamples(ms[1], sampleRate),
			Cutoff:       MSToSamples(ms[2], sampleRate),
			PreUtterance: MSToSamples(ms[3], sampleRate),
			Overlap:      MSToSamples(ms[4], sampleRate),
		},
	}, nil
}
