package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"

	"github.com/chakravyuh/voice-tutor/internal/synthesis"
)

// Decoder turns synthesized bytes into a beep stream
type Decoder func(clip *synthesis.Audio) (beep.StreamCloser, beep.Format, error)

// Decode handles the codecs the synthesis client can request
func Decode(clip *synthesis.Audio) (beep.StreamCloser, beep.Format, error) {
	if clip == nil || len(clip.Data) == 0 {
		return nil, beep.Format{}, fmt.Errorf("empty audio clip")
	}

	switch clip.Format.Codec {
	case synthesis.CodecMP3:
		s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("failed to decode mp3: %w", err)
		}
		return s, format, nil

	case synthesis.CodecPCM:
		if len(clip.Data)%2 != 0 {
			return nil, beep.Format{}, fmt.Errorf("PCM data length must be even, got %d", len(clip.Data))
		}
		format := beep.Format{
			SampleRate:  beep.SampleRate(clip.Format.SampleRate),
			NumChannels: 1,
			Precision:   2,
		}
		return &pcmStreamer{data: clip.Data}, format, nil
	}

	return nil, beep.Format{}, fmt.Errorf("unsupported codec %q", clip.Format.Codec)
}

// pcmStreamer streams headerless 16-bit little-endian mono PCM
type pcmStreamer struct {
	data []byte
	pos  int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) && p.pos+2 <= len(p.data) {
		v := float64(int16(binary.LittleEndian.Uint16(p.data[p.pos:]))) / 32768.0
		samples[n] = [2]float64{v, v}
		p.pos += 2
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error { return nil }

func (p *pcmStreamer) Close() error {
	p.data = nil
	p.pos = 0
	return nil
}
