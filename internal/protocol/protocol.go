// Package protocol implements the JSON message protocol spoken between
// echogate and remote microphone clients.
//
// Inbound messages are classified into typed events by [Decode]; parsing is
// deliberately tolerant — a message that fails to parse, exceeds the chunk
// bound, or carries an unknown type yields [ErrMalformed] and is expected to
// be logged and discarded without terminating the session.
//
// Outbound messages are produced by the Encode* functions. All outbound
// payloads are plain JSON so that thin clients (browsers, microcontrollers)
// can speak the protocol without a schema library.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned by [Decode] for any message that cannot be
// classified. Malformed messages are never fatal to a session.
var ErrMalformed = errors.New("malformed message")

// Inbound message types.
const (
	TypeAudio = "audio"
	TypePing  = "ping"
)

// Outbound message types. Pong flows in both directions: the server answers
// a client ping with it, and a client answers the server's keepalive probe
// with it.
const (
	TypeConfig        = "config"
	TypePong          = "pong"
	TypeAudioPlayback = "audio_playback"
	TypeStopPlayback  = "stop_playback"
	TypeError         = "error"
)

// EventKind discriminates the result of decoding one inbound message.
type EventKind int

const (
	// EventAudio carries one chunk of normalized samples.
	EventAudio EventKind = iota

	// EventPing is a client liveness probe; reply with a pong.
	EventPing

	// EventPong is the client's answer to a server keepalive probe. It
	// carries no payload and warrants no reply, but counts as activity.
	EventPong
)

// Event is one successfully decoded inbound message.
type Event struct {
	Kind EventKind

	// Samples is populated for EventAudio only.
	Samples []float32
}

// inboundMsg is the superset schema of all client→server messages.
type inboundMsg struct {
	Type string    `json:"type"`
	Data []float32 `json:"data"`
}

// Decode parses one raw inbound message and classifies it. maxChunk bounds
// the sample count of audio payloads; longer payloads, non-finite samples,
// unparseable JSON, and unrecognized types all return an error wrapping
// [ErrMalformed].
func Decode(raw []byte, maxChunk int) (Event, error) {
	var msg inboundMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeAudio:
		if len(msg.Data) == 0 {
			return Event{}, fmt.Errorf("%w: audio message with empty data", ErrMalformed)
		}
		if len(msg.Data) > maxChunk {
			return Event{}, fmt.Errorf("%w: audio payload of %d samples exceeds chunk size %d", ErrMalformed, len(msg.Data), maxChunk)
		}
		for i, s := range msg.Data {
			if f := float64(s); math.IsNaN(f) || math.IsInf(f, 0) {
				return Event{}, fmt.Errorf("%w: non-finite sample at index %d", ErrMalformed, i)
			}
		}
		return Event{Kind: EventAudio, Samples: msg.Data}, nil

	case TypePing:
		return Event{Kind: EventPing}, nil

	case TypePong:
		return Event{Kind: EventPong}, nil

	default:
		return Event{}, fmt.Errorf("%w: unrecognized type %q", ErrMalformed, msg.Type)
	}
}

// configMsg is the handshake sent once per session on admission.
type configMsg struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	ChunkSize  int    `json:"chunk_size"`
	Format     string `json:"format"`
}

// playbackMsg carries one synthesized playback job.
type playbackMsg struct {
	Type       string    `json:"type"`
	Data       []float32 `json:"data"`
	SampleRate int       `json:"sample_rate"`
	Text       string    `json:"text"`
}

// typeOnlyMsg covers pong, ping, and stop_playback.
type typeOnlyMsg struct {
	Type string `json:"type"`
}

// errorMsg informs the client of a non-fatal (or admission) failure.
type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeConfig builds the per-session configuration handshake. The format
// field is fixed to "float32", the only sample encoding the protocol carries.
func EncodeConfig(sampleRate, chunkSize int) ([]byte, error) {
	return json.Marshal(configMsg{
		Type:       TypeConfig,
		SampleRate: sampleRate,
		ChunkSize:  chunkSize,
		Format:     "float32",
	})
}

// EncodePlayback builds one audio_playback message.
func EncodePlayback(samples []float32, sampleRate int, text string) ([]byte, error) {
	return json.Marshal(playbackMsg{
		Type:       TypeAudioPlayback,
		Data:       samples,
		SampleRate: sampleRate,
		Text:       text,
	})
}

// EncodePong builds the reply to a client ping.
func EncodePong() ([]byte, error) {
	return json.Marshal(typeOnlyMsg{Type: TypePong})
}

// EncodePing builds the server-side keepalive probe sent by the liveness
// monitor.
func EncodePing() ([]byte, error) {
	return json.Marshal(typeOnlyMsg{Type: TypePing})
}

// EncodeStopPlayback builds the message that tells a client to abandon any
// audio it is currently playing.
func EncodeStopPlayback() ([]byte, error) {
	return json.Marshal(typeOnlyMsg{Type: TypeStopPlayback})
}

// EncodeError builds a non-fatal error notification.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(errorMsg{Type: TypeError, Message: message})
}
