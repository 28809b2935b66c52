package producer

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// FrameRef is the payload of a synthetic screen capture. Frames themselves
// are stored out of band and referenced by path.
type FrameRef struct {
	FrameIdx uint64 `json:"frame_idx"`
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ScreenFrames generates frame references for RGB frames of the given size.
// Each sample declares the decoded frame size for backpressure accounting.
func ScreenFrames(width, height int) Generator {
	return func(n uint64) Sample {
		data, _ := json.Marshal(FrameRef{
			FrameIdx: n - 1,
			Path:     fmt.Sprintf("frames/frame_%06d.png", n-1),
			Width:    width,
			Height:   height,
		})
		return Sample{Payload: data, Size: int64(width * height * 3)}
	}
}

// AudioChunk is the payload of a synthetic audio capture.
type AudioChunk struct {
	ChunkIdx   uint64 `json:"chunk_idx"`
	Path       string `json:"path"`
	SampleRate int    `json:"samplerate"`
	Channels   int    `json:"channels"`
	Frames     int    `json:"frames"`
}

// AudioChunks generates 16-bit PCM chunk references of the given frame count.
func AudioChunks(sampleRate, channels, frames int) Generator {
	return func(n uint64) Sample {
		data, _ := json.Marshal(AudioChunk{
			ChunkIdx:   n - 1,
			Path:       fmt.Sprintf("audio/audio_%06d.wav", n-1),
			SampleRate: sampleRate,
			Channels:   channels,
			Frames:     frames,
		})
		return Sample{Payload: data, Size: int64(frames * channels * 2)}
	}
}

// InputEvent is the payload of a synthetic input capture.
type InputEvent struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	X    int    `json:"x,omitempty"`
	Y    int    `json:"y,omitempty"`
}

var inputKeys = []string{"w", "a", "s", "d", "space", "shift", "e", "q"}

// InputEvents generates random key and mouse events.
func InputEvents() Generator {
	return func(_ uint64) Sample {
		var ev InputEvent
		switch rand.IntN(4) {
		case 0:
			ev = InputEvent{Type: "key_down", Key: inputKeys[rand.IntN(len(inputKeys))]}
		case 1:
			ev = InputEvent{Type: "key_up", Key: inputKeys[rand.IntN(len(inputKeys))]}
		case 2:
			ev = InputEvent{Type: "mouse_move", X: rand.IntN(1920), Y: rand.IntN(1080)}
		default:
			ev = InputEvent{Type: "mouse_click", X: rand.IntN(1920), Y: rand.IntN(1080)}
		}
		data, _ := json.Marshal(ev)
		return Sample{Payload: data}
	}
}
