package audio

import (
	"bytes"
	"encoding/binary"

	"voiceloop/internal/ports"
)

const wavHeaderSize = 44

// WAVEncoder wraps s16le PCM into a RIFF/WAVE container.
type WAVEncoder struct{}

func (WAVEncoder) Encode(pcm []byte, cfg ports.AudioConfig) (ports.Utterance, error) {
	if len(pcm) == 0 {
		return ports.Utterance{}, nil
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	// Drop a trailing partial frame so the data chunk stays aligned.
	pcm = pcm[:len(pcm)-len(pcm)%blockAlign]
	if len(pcm) == 0 {
		return ports.Utterance{}, nil
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return ports.Utterance{
		Audio:       buf.Bytes(),
		ContentType: "audio/wav",
		Filename:    "utterance.wav",
	}, nil
}
