// Package pcm provides small helpers for 16-bit little-endian PCM audio:
// sample/byte conversion, mono/stereo conversion, and linear-interpolation
// resampling.
//
// The capture side uses these to bring device-native audio to the Opus
// encoder's expected format; the playback side uses them to match a decoded
// segment to the output device's format.
package pcm

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesToInt16 converts little-endian bytes to int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

// Int16ToBytes converts int16 PCM samples to little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(data []byte) []byte {
	out := make([]byte, (len(data)/2)*4)
	for i := 0; i+1 < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to the int16 range.
func StereoToMono(data []byte) []byte {
	frames := len(data) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int32(int16(data[i*4]) | int16(data[i*4+1])<<8)
		r := int32(int16(data[i*4+2]) | int16(data[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(data []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return data
	}
	if srcRate == dstRate || len(data) < 2 {
		return data
	}
	srcSamples := len(data) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(data[srcIdx*2]) | int16(data[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(data[(srcIdx+1)*2]) | int16(data[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Convert brings 16-bit PCM data from one [Format] to another. Downmixing
// happens before resampling so stereo data is never resampled when the target
// is mono. Data with an odd byte count is rejected (nil return).
func Convert(data []byte, from, to Format) []byte {
	if len(data)%2 != 0 {
		return nil
	}
	if from == to {
		return data
	}

	// Channel-convert to the target layout first when downmixing, so the
	// mono resampler can be used; upmix after resampling otherwise.
	if from.Channels == 2 && to.Channels == 1 {
		data = StereoToMono(data)
		from.Channels = 1
	}

	if from.SampleRate != to.SampleRate {
		if from.Channels == 1 {
			data = ResampleMono16(data, from.SampleRate, to.SampleRate)
		} else {
			// Resample stereo by splitting into mono passes is wasteful;
			// interleaved stereo is handled sample-pair-wise here.
			data = resampleStereo16(data, from.SampleRate, to.SampleRate)
		}
	}

	if from.Channels == 1 && to.Channels == 2 {
		data = MonoToStereo(data)
	}
	return data
}

// resampleStereo16 resamples interleaved 16-bit stereo PCM using linear
// interpolation per channel.
func resampleStereo16(data []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(data) < 4 {
		return data
	}
	srcFrames := len(data) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(data[srcIdx*4]) | int16(data[srcIdx*4+1])<<8
		r0 := int16(data[srcIdx*4+2]) | int16(data[srcIdx*4+3])<<8
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = int16(data[(srcIdx+1)*4]) | int16(data[(srcIdx+1)*4+1])<<8
			r1 = int16(data[(srcIdx+1)*4+2]) | int16(data[(srcIdx+1)*4+3])<<8
		}

		l := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		r := int16(float64(r0)*(1-frac) + float64(r1)*frac)
		out[i*4] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return out
}
