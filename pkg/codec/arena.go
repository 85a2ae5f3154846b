package codec

import (
	"fmt"

	"github.com/evandegr/oratio/pkg/audio"
)

// FrameArena owns the single PCM allocation a conversation's input stream
// flows through. Incoming model-rate audio is appended in arbitrary chunk
// sizes; complete frames are extracted as index-range views into that one
// allocation, never as per-frame copies.
//
// The streaming codec assumes consecutive frames share one contiguous memory
// layout. Feeding it freshly allocated per-frame buffers breaks that
// assumption silently: the output keeps normal amplitude statistics but is
// temporally scrambled below the frame level. The arena makes the correct
// pattern the only expressible one.
//
// The arena is a slot ring: capacity for a fixed number of frames allocated
// once, reused in order. Each extracted frame is consumed exactly once (the
// sequential pipeline guarantees this) before its slot is overwritten, so the
// view handed out by [FrameArena.Next] is valid until TotalSlots more frames
// have been appended.
type FrameArena struct {
	buf       []int16 // the one allocation
	frameSize int
	slots     int

	w       int   // absolute write position in samples
	r       int   // absolute read position in samples (slot-aligned)
	nextSeq int64 // sequence index of the next extracted frame
}

// NewFrameArena allocates an arena of slots frames of frameSize samples each.
func NewFrameArena(frameSize, slots int) (*FrameArena, error) {
	if frameSize <= 0 || slots < 2 {
		return nil, fmt.Errorf("codec: invalid arena dimensions %d×%d", slots, frameSize)
	}
	return &FrameArena{
		buf:       make([]int16, frameSize*slots),
		frameSize: frameSize,
		slots:     slots,
	}, nil
}

// Append copies pcm into the arena. It fails if the pending (appended but not
// yet extracted) audio would exceed the arena capacity minus one slot; the
// last slot is kept free so the most recently extracted view is never
// overwritten while downstream stages may still hold it.
func (a *FrameArena) Append(pcm []int16) error {
	capacity := len(a.buf) - a.frameSize
	if a.w-a.r+len(pcm) > capacity {
		return fmt.Errorf("codec: arena overflow: %d pending + %d new > %d capacity",
			a.w-a.r, len(pcm), capacity)
	}
	for len(pcm) > 0 {
		off := a.w % len(a.buf)
		n := copy(a.buf[off:], pcm)
		a.w += n
		pcm = pcm[n:]
	}
	return nil
}

// Next extracts the next complete frame as a view into the arena, or returns
// false if fewer than frameSize samples are pending. The returned frame's PCM
// aliases the arena and must be consumed before Append cycles back over its
// slot.
func (a *FrameArena) Next() (audio.Frame, bool) {
	if a.w-a.r < a.frameSize {
		return audio.Frame{}, false
	}
	off := a.r % len(a.buf)
	frame := audio.Frame{
		PCM: a.buf[off : off+a.frameSize],
		Seq: a.nextSeq,
	}
	a.r += a.frameSize
	a.nextSeq++
	return frame, true
}

// Pending returns the number of appended samples not yet extracted.
func (a *FrameArena) Pending() int { return a.w - a.r }

// FrameSize returns the extraction frame size in samples.
func (a *FrameArena) FrameSize() int { return a.frameSize }
