package mcproto

// View is a borrowed window into a source buffer. It never owns memory and
// is only valid while the source buffer is left untouched.
type View struct {
	src []byte
	off int
	n   int
}

// viewOf assumes the caller already checked off+n <= len(src).
func viewOf(src []byte, off, n int) View {
	return View{src: src, off: off, n: n}
}

// Bytes returns the borrowed bytes. The capacity is clipped so appending
// to the result never writes into the source buffer.
func (v View) Bytes() []byte {
	if v.src == nil {
		return nil
	}
	return v.src[v.off : v.off+v.n : v.off+v.n]
}

func (v View) Len() int    { return v.n }
func (v View) Offset() int { return v.off }

func (v View) IsZero() bool { return v.src == nil }

// CopyTo copies the viewed bytes into dst. It fails with ErrShortDst and
// copies nothing if dst is smaller than the view.
func (v View) CopyTo(dst []byte) (int, error) {
	if len(dst) < v.n {
		return 0, ErrShortDst
	}
	return copy(dst, v.Bytes()), nil
}

// String returns an owned copy of the viewed bytes.
func (v View) String() string {
	return string(v.Bytes())
}
