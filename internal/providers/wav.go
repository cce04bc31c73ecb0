// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package providers

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// wavAudio is decoded 16-bit PCM audio.
type wavAudio struct {
	sampleRate int
	channels   int
	samples    []int16
}

// readWAV decodes a 16-bit PCM WAV file. Other encodings are rejected; the
// ffmpeg provider handles those.
func readWAV(path string) (*wavAudio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var audio *wavAudio
	var pcm []byte
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%s: truncated fmt chunk", path)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate := int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%s: only 16-bit PCM is supported (format=%d bits=%d)", path, format, bits)
			}
			audio = &wavAudio{sampleRate: rate, channels: channels}
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if audio == nil || pcm == nil {
		return nil, fmt.Errorf("%s: missing fmt or data chunk", path)
	}

	audio.samples = make([]int16, len(pcm)/2)
	for i := range audio.samples {
		audio.samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return audio, nil
}

// writeWAV encodes 16-bit PCM audio to path.
func writeWAV(path string, a *wavAudio) error {
	dataLen := len(a.samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(a.channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(a.sampleRate))
	byteRate := a.sampleRate * a.channels * 2
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(a.channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range a.samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(s))
	}

	return os.WriteFile(path, buf, 0o644)
}

// silentWAV returns seconds of silence at 22.05 kHz mono.
func silentWAV(seconds float64) *wavAudio {
	const rate = 22050
	n := int(math.Round(seconds * rate))
	return &wavAudio{sampleRate: rate, channels: 1, samples: make([]int16, n)}
}

// overlay mixes music into voice at the given gain, clipping at the int16
// range. The output length follows the voice track; excess music is cut.
func overlay(voice, music *wavAudio, gain float64) *wavAudio {
	out := &wavAudio{
		sampleRate: voice.sampleRate,
		channels:   voice.channels,
		samples:    make([]int16, len(voice.samples)),
	}
	for i, v := range voice.samples {
		mixed := float64(v)
		if i < len(music.samples) {
			mixed += float64(music.samples[i]) * gain
		}
		switch {
		case mixed > math.MaxInt16:
			mixed = math.MaxInt16
		case mixed < math.MinInt16:
			mixed = math.MinInt16
		}
		out.samples[i] = int16(mixed)
	}
	return out
}
