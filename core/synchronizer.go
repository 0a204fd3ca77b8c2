package orchestration

import (
	"iter"

	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/audio"
	"github.com/rfolmedoa/ai-voice-agent-for-it-support/core/telephony"
)

// frameIntervalMs is the cadence at which telephony providers deliver
// media frames.
const frameIntervalMs = 20

// trackSynchronizer reconstructs a contiguous audio stream from timed
// media frames. Missing intervals are filled with encoded silence so
// downstream consumers always see wall-clock aligned audio.
//
// In single-track mode only the inbound track is reconstructed. In
// mixed mode both tracks are reconstructed independently and combined
// into a single stream as soon as both sides have audio for the same
// span.
type trackSynchronizer struct {
	encoding audio.EncodingInfo
	mixed    bool

	tracks map[telephony.Track]*trackState
}

type trackState struct {
	primed bool
	// lastTimestamp is the timestamp of the most recent accepted
	// frame, in milliseconds.
	lastTimestamp int64
	// ended is set when the track delivered a regressed or overlapping
	// timestamp, after which its frames are dropped.
	ended bool
	// pending holds reconstructed audio not yet consumed by mixing.
	// Unused in single-track mode.
	pending []byte
}

type trackSynchronizerOption func(*trackSynchronizer)

func withMixedTracks() trackSynchronizerOption {
	return func(s *trackSynchronizer) { s.mixed = true }
}

func newTrackSynchronizer(encoding audio.EncodingInfo, opts ...trackSynchronizerOption) *trackSynchronizer {
	s := &trackSynchronizer{
		encoding: encoding,
		tracks: map[telephony.Track]*trackState{
			telephony.TrackInbound:  {},
			telephony.TrackOutbound: {},
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Ingest accepts one media frame and yields the contiguous audio it
// unlocks, silence fill first. The returned sequence is valid until
// the next call to Ingest.
func (s *trackSynchronizer) Ingest(frame telephony.MediaFrame) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		track, ok := s.tracks[frame.Track]
		if !ok || track.ended {
			return
		}

		if !s.mixed && frame.Track != telephony.TrackInbound {
			return
		}

		if !track.primed {
			s.prime(frame)
		} else if frame.TimestampMs <= track.lastTimestamp {
			logger.Warn("Track timestamp regressed, ending track",
				"track", frame.Track, "timestamp", frame.TimestampMs, "last", track.lastTimestamp)
			track.ended = true
			return
		}

		gap := s.silenceGap(track, frame.TimestampMs)
		track.lastTimestamp = frame.TimestampMs

		if !s.mixed {
			if gap != nil && !yield(gap) {
				return
			}
			yield(frame.Payload)
			return
		}

		track.pending = append(track.pending, gap...)
		track.pending = append(track.pending, frame.Payload...)

		if mixed := s.drainMixed(); mixed != nil {
			yield(mixed)
		}
	}
}

// prime sets the first frame's track as the clock reference and
// baselines the opposite track one interval back so its first frame
// fills silence from the same point in time.
func (s *trackSynchronizer) prime(frame telephony.MediaFrame) {
	track := s.tracks[frame.Track]
	track.primed = true
	track.lastTimestamp = frame.TimestampMs - frameIntervalMs

	opposite := s.tracks[frame.Track.Opposite()]
	if !opposite.primed {
		opposite.primed = true
		opposite.lastTimestamp = frame.TimestampMs - frameIntervalMs
	}
}

// silenceGap returns encoded silence covering the span between the end
// of the previous frame and the start of this one, or nil when the
// frames are contiguous.
func (s *trackSynchronizer) silenceGap(track *trackState, timestampMs int64) []byte {
	gapMs := timestampMs - (track.lastTimestamp + frameIntervalMs)
	if gapMs <= 0 {
		return nil
	}

	gap := make([]byte, gapMs*int64(s.encoding.BytesPerMillisecond()))
	if silence := s.encoding.SilenceValue(); silence != 0 {
		for i := range gap {
			gap[i] = silence
		}
	}
	return gap
}

func (s *trackSynchronizer) drainMixed() []byte {
	inbound := s.tracks[telephony.TrackInbound]
	outbound := s.tracks[telephony.TrackOutbound]

	n := min(len(inbound.pending), len(outbound.pending))
	if n == 0 {
		return nil
	}

	mixed := audio.MixMulaw(inbound.pending[:n], outbound.pending[:n])
	inbound.pending = inbound.pending[n:]
	outbound.pending = outbound.pending[n:]
	return mixed
}
