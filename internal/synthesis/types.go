package synthesis

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec is the encoding of synthesized audio
type Codec string

const (
	CodecMP3 Codec = "mp3"
	CodecPCM Codec = "pcm" // signed 16-bit little-endian mono
)

// Format describes synthesized audio as requested via output_format
type Format struct {
	Codec      Codec
	SampleRate int
	Bitrate    int // kbps, mp3 only
}

// String renders the ElevenLabs output_format value
func (f Format) String() string {
	if f.Codec == CodecMP3 {
		return fmt.Sprintf("mp3_%d_%d", f.SampleRate, f.Bitrate)
	}
	return fmt.Sprintf("pcm_%d", f.SampleRate)
}

// ParseFormat parses an output_format such as mp3_44100_128 or pcm_24000
func ParseFormat(s string) (Format, error) {
	parts := strings.Split(s, "_")
	switch {
	case len(parts) == 3 && parts[0] == string(CodecMP3):
		rate, err1 := strconv.Atoi(parts[1])
		bitrate, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || rate <= 0 || bitrate <= 0 {
			break
		}
		return Format{Codec: CodecMP3, SampleRate: rate, Bitrate: bitrate}, nil
	case len(parts) == 2 && parts[0] == string(CodecPCM):
		rate, err := strconv.Atoi(parts[1])
		if err != nil || rate <= 0 {
			break
		}
		return Format{Codec: CodecPCM, SampleRate: rate}, nil
	}
	return Format{}, fmt.Errorf("unsupported output format %q (want mp3_<rate>_<kbps> or pcm_<rate>)", s)
}

// Audio is one synthesized clip
type Audio struct {
	Data        []byte
	ContentType string
	Format      Format
	Text        string
}

// VoiceSettings are sent with every synthesis request
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// Request is the ElevenLabs text-to-speech request body
type Request struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}
