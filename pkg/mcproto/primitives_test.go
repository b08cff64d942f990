package mcproto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecodeStringBounds(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
		err  error
	}{
		{name: "empty string", in: []byte{0x00}, want: ""},
		{name: "exact", in: []byte{0x03, 'a', 'b', 'c'}, want: "abc"},
		{name: "trailing", in: []byte{0x02, 'h', 'i', 0xff}, want: "hi"},
		{name: "length past end", in: []byte{0x04, 'a', 'b'}, err: ErrShortBuffer},
		{name: "huge length", in: []byte{0xff, 0xff, 0xff, 0xff, 0x07, 'a'}, err: ErrShortBuffer},
		{name: "negative length", in: []byte{0xff, 0xff, 0xff, 0xff, 0x0f, 'a'}, err: ErrNegativeLength},
		{name: "no prefix", in: nil, err: ErrShortBuffer},
		{name: "bad prefix", in: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80}, err: ErrVarIntTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, n, err := DecodeString(tc.in)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("want %v, got %v", tc.err, err)
				}
				if n != 0 || !v.IsZero() {
					t.Fatalf("want zero result on error, got view=%+v n=%d", v, n)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeString: %v", err)
			}
			if v.String() != tc.want {
				t.Fatalf("want %q, got %q", tc.want, v.String())
			}
			if v.Offset()+v.Len() > len(tc.in) || n > len(tc.in) {
				t.Fatalf("view [%d,+%d) n=%d escapes buffer of %d", v.Offset(), v.Len(), n, len(tc.in))
			}
		})
	}
}

func TestViewCopyTo(t *testing.T) {
	v, _, err := DecodeString([]byte{0x05, 'h', 'e', 'l', 'l', 'o'})
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}

	small := []byte{'x', 'x', 'x', 'x'}
	n, err := v.CopyTo(small)
	if !errors.Is(err, ErrShortDst) || n != 0 {
		t.Fatalf("want ErrShortDst and 0, got %d %v", n, err)
	}
	if string(small) != "xxxx" {
		t.Fatalf("destination modified on failure: %q", small)
	}

	exact := make([]byte, v.Len())
	n, err = v.CopyTo(exact)
	if err != nil || n != 5 || string(exact) != "hello" {
		t.Fatalf("CopyTo exact: %q n=%d err=%v", exact, n, err)
	}
}

func TestViewBytesCannotClobberSource(t *testing.T) {
	src := []byte{0x02, 'o', 'k', 'Z'}
	v, _, err := DecodeString(src)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	_ = append(v.Bytes(), '!')
	if src[3] != 'Z' {
		t.Fatalf("append through view overwrote source")
	}
}

func TestDecodeUShort(t *testing.T) {
	if got, err := DecodeUShort([]byte{0x63, 0xdd}); err != nil || got != 25565 {
		t.Fatalf("got %d %v", got, err)
	}
	if _, err := DecodeUShort([]byte{0x63}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("want ErrShortBuffer, got %v", err)
	}
}

// The stream reader used on live connections must agree with the slice
// decoder on every accepted string.
func TestReadStringMatchesDecodeString(t *testing.T) {
	for _, s := range []string{"", "localhost", strings.Repeat("a", 300)} {
		wire := AppendString(nil, s)
		v, n, err := DecodeString(wire)
		if err != nil {
			t.Fatalf("DecodeString(%d bytes): %v", len(s), err)
		}
		got, rn, err := ReadString(bytes.NewReader(wire), 0)
		if err != nil {
			t.Fatalf("ReadString(%d bytes): %v", len(s), err)
		}
		if got != v.String() || rn != n {
			t.Fatalf("stream %q/%d, slice %q/%d", got, rn, v.String(), n)
		}
	}

	if _, _, err := ReadString(bytes.NewReader(AppendString(nil, "toolong")), 3); err == nil {
		t.Fatalf("ReadString accepted a string over maxLen")
	}
	_, _, err := ReadString(bytes.NewReader([]byte{0x05, 'a'}), 0)
	if err == nil {
		t.Fatalf("ReadString accepted a short body")
	}
}
