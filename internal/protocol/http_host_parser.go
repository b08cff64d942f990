package protocol

import (
	"bytes"

	"craftgate/internal/hostname"
)

// HTTPHostParser routes plain HTTP/1.x requests by their Host header.
type HTTPHostParser struct {
	// MaxHeaderBytes bounds how far the parser looks for the end of the
	// header block. Defaults to 8 KiB.
	MaxHeaderBytes int
}

func NewHTTPHostParser() *HTTPHostParser { return &HTTPHostParser{} }

func (p *HTTPHostParser) Name() string { return "http_host" }

func (p *HTTPHostParser) Parse(prelude []byte) (*Metadata, error) {
	limit := p.MaxHeaderBytes
	if limit <= 0 {
		limit = 8 << 10
	}
	if len(prelude) == 0 {
		return nil, ErrNeedMoreData
	}

	// Request line: METHOD SP target SP HTTP/1.x
	i := 0
	for i < len(prelude) && prelude[i] >= 'A' && prelude[i] <= 'Z' {
		i++
	}
	if i == len(prelude) {
		if i > 16 {
			return nil, ErrNoMatch
		}
		return nil, ErrNeedMoreData
	}
	if i == 0 || prelude[i] != ' ' {
		return nil, ErrNoMatch
	}

	eol := bytes.IndexByte(prelude, '\n')
	if eol < 0 {
		if len(prelude) >= limit {
			return nil, ErrNoMatch
		}
		return nil, ErrNeedMoreData
	}
	if !bytes.Contains(prelude[:eol], []byte(" HTTP/1.")) {
		return nil, ErrNoMatch
	}

	rest := prelude[eol+1:]
	consumed := eol + 1
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			if consumed+len(rest) >= limit {
				return nil, ErrNoMatch
			}
			return nil, ErrNeedMoreData
		}
		line := bytes.TrimRight(rest[:nl], "\r")
		if len(line) == 0 {
			// End of headers without a Host.
			return nil, ErrNoMatch
		}
		if name, value, ok := bytes.Cut(line, []byte{':'}); ok && bytes.EqualFold(bytes.TrimSpace(name), []byte("host")) {
			raw := string(bytes.TrimSpace(value))
			if h, _, ok := hostname.SplitHostPort(raw); ok {
				raw = h
			}
			host := hostname.Normalize(raw)
			if host == "" {
				return nil, ErrNoMatch
			}
			return &Metadata{Parser: p.Name(), Host: host, Vars: Vars{VarHTTPHost: host}}, nil
		}
		consumed += nl + 1
		rest = rest[nl+1:]
	}
}

var _ HostParser = (*HTTPHostParser)(nil)
