package audio

// Rebuffer accumulates PCM written in arbitrary increments and re-emits it in
// fixed-size blocks. It bridges mismatched chunk sizes at the device boundary,
// e.g. 20 ms telephony chunks against 80 ms model frames. Not safe for
// concurrent use; each stream direction owns its own Rebuffer.
type Rebuffer struct {
	block int
	buf   []int16
}

// NewRebuffer returns a Rebuffer emitting blocks of block samples.
func NewRebuffer(block int) *Rebuffer {
	return &Rebuffer{block: block}
}

// Write appends pcm to the pending buffer.
func (r *Rebuffer) Write(pcm []int16) {
	r.buf = append(r.buf, pcm...)
}

// Next returns the next full block and true, or nil and false if fewer than a
// block of samples is pending. The returned slice is a view into the internal
// buffer and is only valid until the next Write.
func (r *Rebuffer) Next() ([]int16, bool) {
	if len(r.buf) < r.block {
		return nil, false
	}
	out := r.buf[:r.block]
	r.buf = r.buf[r.block:]
	return out, true
}

// Pending reports the number of buffered samples not yet emitted.
func (r *Rebuffer) Pending() int {
	return len(r.buf)
}

// Flush returns all pending samples zero-padded to a full block, or nil if
// nothing is pending. Used at stream end so the final partial chunk is not
// silently dropped.
func (r *Rebuffer) Flush() []int16 {
	if len(r.buf) == 0 {
		return nil
	}
	out := make([]int16, r.block)
	copy(out, r.buf)
	r.buf = r.buf[:0]
	return out
}
