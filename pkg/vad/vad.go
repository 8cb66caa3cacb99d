// Package vad gates utterances before they reach the speech recognizer.
// Rejecting silence early keeps recognizer costs down and prevents the
// hallucinated captions that models produce on empty audio.
package vad

import (
	"math"
	"time"
)

const (
	// wavHeaderSize + half a second of 16kHz mono 16-bit PCM. Anything
	// smaller cannot carry a meaningful utterance.
	wavHeaderSize      = 44
	halfSecond16k      = 16000
	DefaultMinBlobSize = wavHeaderSize + halfSecond16k

	DefaultMinEnergy      = 500.0
	DefaultMinSpeechRatio = 0.1
	frameDuration         = 20 * time.Millisecond
)

// Result reports the gate decision with the measurements behind it.
type Result struct {
	HasSpeech    bool
	Energy       float64
	SpeechRatio  float64
	TotalFrames  int
	SpeechFrames int
}

// Detector applies a two-stage check: a fast whole-blob RMS energy test,
// then a per-frame classification so that a short loud click does not
// pass as speech.
type Detector struct {
	MinBlobSize    int
	MinEnergy      float64
	MinSpeechRatio float64
}

func NewDetector() *Detector {
	return &Detector{
		MinBlobSize:    DefaultMinBlobSize,
		MinEnergy:      DefaultMinEnergy,
		MinSpeechRatio: DefaultMinSpeechRatio,
	}
}

// Detect reports whether the WAV blob contains speech.
func (d *Detector) Detect(blob []byte) Result {
	none := Result{}

	if len(blob) < d.MinBlobSize {
		return none
	}

	audio, err := decodeWav(blob)
	if err != nil {
		return none
	}

	energy := rmsEnergy(audio.Data)
	if energy < d.MinEnergy {
		// 静音は即除外
		return Result{Energy: energy}
	}

	total, speech := d.classifyFrames(audio)
	if total == 0 {
		// Too short to frame; the energy test already passed.
		return Result{HasSpeech: true, Energy: energy, SpeechRatio: 1, TotalFrames: 1, SpeechFrames: 1}
	}

	ratio := float64(speech) / float64(total)
	return Result{
		HasSpeech:    ratio >= d.MinSpeechRatio,
		Energy:       energy,
		SpeechRatio:  ratio,
		TotalFrames:  total,
		SpeechFrames: speech,
	}
}

// HasSpeech is the boolean shortcut used by the pipeline.
func (d *Detector) HasSpeech(blob []byte) bool {
	return d.Detect(blob).HasSpeech
}

// classifyFrames labels each 20ms frame as speech or not. A frame counts
// as speech when its own RMS clears the energy floor and its zero-crossing
// rate stays in the voiced-speech range; steady tones and broadband hiss
// land outside that range.
func (d *Detector) classifyFrames(audio *pcmAudio) (total, speech int) {
	frameSize := int(float64(audio.SampleRate)*frameDuration.Seconds()) * 2
	if frameSize <= 0 || len(audio.Data) < frameSize {
		return 0, 0
	}

	for i := 0; i+frameSize <= len(audio.Data); i += frameSize {
		frame := audio.Data[i : i+frameSize]
		total++

		if rmsEnergy(frame) < d.MinEnergy {
			continue
		}
		zcr := zeroCrossingRate(frame)
		if zcr >= 0.01 && zcr <= 0.45 {
			speech++
		}
	}
	return total, speech
}

// rmsEnergy computes RMS over 16-bit little-endian PCM, 0..32768 scale.
func rmsEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(n))
}

func zeroCrossingRate(pcm []byte) float64 {
	n := len(pcm) / 2
	if n < 2 {
		return 0
	}
	var crossings int
	prev := int16(pcm[0]) | int16(pcm[1])<<8
	for i := 2; i+1 < len(pcm); i += 2 {
		cur := int16(pcm[i]) | int16(pcm[i+1])<<8
		if (prev < 0 && cur >= 0) || (prev >= 0 && cur < 0) {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(n-1)
}
