package vad

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	wav "github.com/youpy/go-wav"
)

var errBadWav = errors.New("unparsable wav data")

// pcmAudio is the decoded payload the detector operates on.
// Data is 16-bit little-endian mono PCM.
type pcmAudio struct {
	Data       []byte
	SampleRate int
}

// decodeWav extracts mono 16-bit PCM from a WAV blob. go-wav handles the
// common layouts; clients occasionally produce extra chunks before `data`
// that it rejects, so a manual RIFF scan backs it up.
func decodeWav(blob []byte) (*pcmAudio, error) {
	if audio, err := decodeWithReader(blob); err == nil {
		return audio, nil
	}
	return decodeManual(blob)
}

func decodeWithReader(blob []byte) (*pcmAudio, error) {
	r := wav.NewReader(bytes.NewReader(blob))
	format, err := r.Format()
	if err != nil {
		return nil, err
	}
	if format.BitsPerSample != 16 {
		return nil, errBadWav
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return nil, errBadWav
	}
	if format.NumChannels == 2 {
		data = downmixStereo(data)
	} else if format.NumChannels != 1 {
		return nil, errBadWav
	}
	return &pcmAudio{Data: data, SampleRate: int(format.SampleRate)}, nil
}

// decodeManual walks RIFF chunks by hand: fmt first, then data.
func decodeManual(blob []byte) (*pcmAudio, error) {
	if len(blob) < 44 {
		return nil, errBadWav
	}
	if !bytes.Equal(blob[:4], []byte("RIFF")) || !bytes.Equal(blob[8:12], []byte("WAVE")) {
		return nil, errBadWav
	}

	var sampleRate int
	var channels, bits int
	var pcm []byte

	pos := 12
	for pos+8 <= len(blob) {
		chunkID := blob[pos : pos+4]
		chunkSize := int(binary.LittleEndian.Uint32(blob[pos+4 : pos+8]))
		body := pos + 8
		end := body + chunkSize
		if end > len(blob) {
			end = len(blob)
		}

		switch {
		case bytes.Equal(chunkID, []byte("fmt ")):
			if end-body >= 16 {
				fmtData := blob[body:end]
				channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			}
		case bytes.Equal(chunkID, []byte("data")):
			pcm = blob[body:end]
		}
		pos = body + chunkSize
	}

	if sampleRate == 0 || bits != 16 || len(pcm) == 0 {
		return nil, errBadWav
	}
	if channels == 2 {
		pcm = downmixStereo(pcm)
	} else if channels != 1 {
		return nil, errBadWav
	}
	return &pcmAudio{Data: pcm, SampleRate: sampleRate}, nil
}

// downmixStereo keeps the left channel only. 左チャンネルのみ使用
func downmixStereo(data []byte) []byte {
	mono := make([]byte, 0, len(data)/2)
	for i := 0; i+2 <= len(data); i += 4 {
		mono = append(mono, data[i], data[i+1])
	}
	return mono
}
