package audio

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit PCM in a canonical RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	putWAVHeader(buf, len(pcm), sampleRate, channels)
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// WriteWAV encodes s as a 16-bit WAV stream to w.
func WriteWAV(w io.Writer, s *Samples) error {
	pcm := EncodePCM16(s)
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, len(pcm), s.SampleRate, s.Channels)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

func putWAVHeader(buf []byte, dataSize, sampleRate, channels int) {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}
