package audio

import "math"

// fullScale is the magnitude used to normalise int16 samples into [-1, 1).
const fullScale = 32768.0

// MonoToStereo duplicates each mono sample of src into an L+R pair in dst.
// dst must hold at least 2*len(src) samples. It does not allocate and is safe
// to call from a [Callback].
func MonoToStereo(dst, src []int16) {
	for i, s := range src {
		dst[2*i] = s
		dst[2*i+1] = s
	}
}

// StereoToMono averages each interleaved L+R pair of src into dst. dst must
// hold at least len(src)/2 samples. Uses int32 arithmetic so the average
// cannot overflow. It does not allocate.
func StereoToMono(dst, src []int16) {
	frames := len(src) / 2
	for i := range frames {
		avg := (int32(src[2*i]) + int32(src[2*i+1])) / 2
		dst[i] = int16(avg)
	}
}

// ToMonoFloat downmixes interleaved int16 samples with the given channel
// count into a newly allocated mono float64 slice normalised to [-1, 1).
func ToMonoFloat(samples []int16, channels int) []float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += float64(samples[i*channels+c])
		}
		out[i] = sum / float64(channels) / fullScale
	}
	return out
}

// FloatToInt16 converts a normalised float sample into int16, clamping to the
// representable range.
func FloatToInt16(v float64) int16 {
	s := math.Round(v * fullScale)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
// Returns 0 for an empty slice. It does not allocate.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / fullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ResampleMono resamples mono int16 samples from srcRate to dstRate using
// linear interpolation. If the rates match (or either is invalid), src is
// returned unchanged.
func ResampleMono(src []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(src) < 2 {
		return src
	}
	dstSamples := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := src[srcIdx]
		s1 := s0
		if srcIdx+1 < len(src) {
			s1 = src[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
