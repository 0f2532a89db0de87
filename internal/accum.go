package internal

// MaxPrealloc bounds the capacity reserved up front by [Accum.Reset]. Larger
// targets grow as their bytes arrive.
const MaxPrealloc = 64 * 1024

// Accum gathers bytes across successive writes until a target length is
// reached. It backs the resumable stages of the capture file readers.
type Accum struct {
	buf  []byte
	need int
	// lent is set when buf was gathered for the caller to keep.
	lent bool
}

// Reset prepares the accumulator to gather n bytes. If own is set the gathered
// bytes are handed to the caller: they are never reused by a later Reset.
func (a *Accum) Reset(n int, own bool) {
	if own || a.lent || cap(a.buf) < n {
		a.buf = make([]byte, 0, min(n, MaxPrealloc))
	} else {
		a.buf = a.buf[:0]
	}
	a.lent = own
	a.need = n
}

// Feed appends as much of b as is needed and returns the unused remainder of b
// and whether the target length was reached.
func (a *Accum) Feed(b []byte) (rest []byte, done bool) {
	n := min(a.need-len(a.buf), len(b))
	a.buf = append(a.buf, b[:n]...)
	return b[n:], len(a.buf) == a.need
}

// Bytes returns the gathered bytes.
func (a *Accum) Bytes() []byte { return a.buf }

// Pending returns the number of bytes gathered for an unfinished target.
func (a *Accum) Pending() int {
	if len(a.buf) == a.need {
		return 0
	}
	return len(a.buf)
}
