package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	formatPCM     = 1
)

var (
	// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

	// ErrUnsupportedEncoding is returned for WAV files that are not 16-bit PCM.
	ErrUnsupportedEncoding = errors.New("audio: only 16-bit PCM WAV is supported")
)

// DecodeWAV parses a 16-bit PCM WAV file. Chunks other than "fmt " and "data"
// are skipped.
func DecodeWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		clip     Clip
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Clip{}, fmt.Errorf("audio: truncated fmt chunk")
			}
			f := wav[body:]
			if binary.LittleEndian.Uint16(f[0:2]) != formatPCM || binary.LittleEndian.Uint16(f[14:16]) != bitsPerSample {
				return Clip{}, ErrUnsupportedEncoding
			}
			clip.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Clip{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			data := wav[body:end]
			clip.Samples = make([]int16, len(data)/2)
			for i := range clip.Samples {
				clip.Samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
			}
			return clip, nil
		}

		// Chunks are word-aligned.
		offset = body + size + size%2
	}
	return Clip{}, fmt.Errorf("audio: missing data chunk")
}

// EncodeWAV serialises clip as a canonical 44-byte-header PCM WAV file.
func EncodeWAV(clip Clip) []byte {
	pcm := make([]byte, len(clip.Samples)*2)
	for i, s := range clip.Samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return WrapPCM(pcm, clip.SampleRate, clip.Channels)
}

// WrapPCM prefixes raw little-endian 16-bit PCM with a WAV header.
func WrapPCM(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
