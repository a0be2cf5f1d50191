package kfmt

import "io"

// PrefixWriter decorates another io.Writer, emitting a fixed prefix before
// the first byte of every line written through it. kernel/hal uses one to
// tag each driver's init output with the driver's name and version.
type PrefixWriter struct {
	// Sink receives the decorated output.
	Sink io.Writer

	// Prefix is emitted at the start of every line.
	Prefix []byte

	// midline records whether the current line has already received its
	// prefix. The state persists across Write calls, so a line assembled
	// from several writes is only prefixed once.
	midline bool

	// buf carries one byte at a time to the sink without allocating.
	buf [1]byte
}

// Write emits p to the sink, inserting Prefix at every line start. The
// returned count covers the bytes of p only, never the injected prefixes,
// keeping the io.Writer contract's n <= len(p) intact.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for _, b := range p {
		if !w.midline {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midline = true
		}

		w.buf[0] = b
		n, err := w.Sink.Write(w.buf[:])
		written += n
		if err != nil {
			return written, err
		}

		if b == '\n' {
			w.midline = false
		}
	}

	return written, nil
}
