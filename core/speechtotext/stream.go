package speechtotext

import "iter"

// Stream is one live transcription connection. Events is a lazy, infinite,
// non-restartable sequence: it ends only when the service closes the stream
// or the connection is lost, after which Err reports the terminal error, if
// any.
type Stream interface {
	SendAudio(audio []byte) error
	Events() iter.Seq[TranscriptEvent]
	Err() error
	Close() error
}
