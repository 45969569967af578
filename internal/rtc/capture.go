package rtc

import (
	"context"

	"github.com/haven-im/haven-server/internal/utils"
)

// SampleCapture is a CaptureDevice producing static sample tracks. The
// application feeds encoded media into the returned tracks via
// LocalTrack.WriteSample; there is no OS-level device access here.
type SampleCapture struct {
	StreamID string
}

func NewSampleCapture(streamID string) *SampleCapture {
	if streamID == "" {
		streamID = utils.NewID()
	}
	return &SampleCapture{StreamID: streamID}
}

func (c *SampleCapture) Microphone(_ context.Context) (Track, error) {
	return NewAudioTrack("audio-"+utils.NewID(), c.StreamID)
}

func (c *SampleCapture) Screen(_ context.Context) (Track, error) {
	return NewVideoTrack("screen-"+utils.NewID(), c.StreamID)
}
