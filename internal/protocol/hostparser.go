package protocol

import (
	"errors"
	"slices"
)

var (
	ErrNeedMoreData = errors.New("protocol: need more data")
	ErrNoMatch      = errors.New("protocol: no match")
)

// Metadata is what a HostParser learned from a connection prelude.
type Metadata struct {
	// Parser is the Name() of the parser that produced the result.
	Parser string
	// Host is the normalized routing host name.
	Host string
	// Vars are request variables exposed to templates and access logs.
	Vars Vars
}

// HostParser extracts a routing host from the first bytes of a connection.
//
// Parse is called with successively longer prefixes of the same stream and
// must not retain or modify prelude. It returns ErrNeedMoreData while the
// prefix is too short to decide, ErrNoMatch when the stream is not in the
// parser's protocol, and any other error to abort the connection.
type HostParser interface {
	Name() string
	Parse(prelude []byte) (*Metadata, error)
}

// ChainHostParser tries each parser in order and returns the first match.
type ChainHostParser struct {
	parsers []HostParser
}

// NewChainHostParser ignores nil entries.
func NewChainHostParser(parsers ...HostParser) *ChainHostParser {
	c := &ChainHostParser{}
	for _, p := range parsers {
		if p != nil {
			c.parsers = append(c.parsers, p)
		}
	}
	return c
}

func (c *ChainHostParser) Name() string { return "chain" }

// Parsers returns a copy of the chain in evaluation order.
func (c *ChainHostParser) Parsers() []HostParser { return slices.Clone(c.parsers) }

// Parse reports ErrNeedMoreData if no parser matched but at least one might
// with more bytes.
func (c *ChainHostParser) Parse(prelude []byte) (*Metadata, error) {
	result := ErrNoMatch
	for _, p := range c.parsers {
		md, err := p.Parse(prelude)
		switch {
		case err == nil && md != nil && md.Host != "":
			if md.Parser == "" {
				md.Parser = p.Name()
			}
			return md, nil
		case err == nil, errors.Is(err, ErrNoMatch):
		case errors.Is(err, ErrNeedMoreData):
			result = ErrNeedMoreData
		default:
			return nil, err
		}
	}
	return nil, result
}

var _ HostParser = (*ChainHostParser)(nil)
