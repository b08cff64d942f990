package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"craftgate/internal/config"
	"craftgate/internal/protocol"
)

// parserCloser releases what a parser chain holds (WASM runtimes).
type parserCloser func(context.Context) error

type builtinFactory func(pc config.RoutingParserConfig, maxHeaderBytes int) (protocol.HostParser, error)

var builtinFactories = map[string]builtinFactory{
	"minecraft_handshake": newMinecraftParser,
	"tls_sni": func(config.RoutingParserConfig, int) (protocol.HostParser, error) {
		return protocol.NewTLSSNIHostParser(), nil
	},
	"http_host": func(_ config.RoutingParserConfig, maxHeaderBytes int) (protocol.HostParser, error) {
		return &protocol.HTTPHostParser{MaxHeaderBytes: maxHeaderBytes}, nil
	},
}

// BuildHostParser builds the routing parser chain in configured order. The
// closer is nil when no parser holds resources. On error everything built so
// far has already been released.
func BuildHostParser(ctx context.Context, cfgs []config.RoutingParserConfig, maxHeaderBytes int) (_ *protocol.ChainHostParser, _ parserCloser, err error) {
	var (
		parsers []protocol.HostParser
		closers []parserCloser
	)
	closeAll := func(ctx context.Context) error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c(ctx))
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = closeAll(ctx)
		}
	}()

	for i, pc := range cfgs {
		switch kind := strings.ToLower(strings.TrimSpace(pc.Type)); kind {
		case "", "builtin":
			name, _ := config.CanonicalParserName(pc.Name)
			newParser, ok := builtinFactories[name]
			if !ok {
				return nil, nil, fmt.Errorf("routing_parsers[%d]: unknown builtin parser %q", i, pc.Name)
			}
			p, err := newParser(pc, maxHeaderBytes)
			if err != nil {
				return nil, nil, fmt.Errorf("routing_parsers[%d]: %w", i, err)
			}
			parsers = append(parsers, p)
		case "wasm":
			wp, err := newWASMParser(ctx, pc)
			if err != nil {
				return nil, nil, fmt.Errorf("routing_parsers[%d]: %w", i, err)
			}
			parsers = append(parsers, wp)
			closers = append(closers, wp.Close)
		default:
			return nil, nil, fmt.Errorf("routing_parsers[%d]: unknown type %q", i, pc.Type)
		}
	}

	chain := protocol.NewChainHostParser(parsers...)
	if len(closers) == 0 {
		return chain, nil, nil
	}
	return chain, closeAll, nil
}

func newMinecraftParser(pc config.RoutingParserConfig, _ int) (protocol.HostParser, error) {
	p := &protocol.MinecraftHostParser{MaxProtocolVersion: int32(pc.MaxProtocolVersion)}
	for _, s := range pc.NextStates {
		st, ok := protocol.ParseNextState(strings.ToLower(strings.TrimSpace(s)))
		if !ok {
			return nil, fmt.Errorf("minecraft_handshake: unknown next state %q", s)
		}
		p.AllowedNextStates = append(p.AllowedNextStates, st)
	}
	return p, nil
}

func newWASMParser(ctx context.Context, pc config.RoutingParserConfig) (*protocol.WASMHostParser, error) {
	path := strings.TrimSpace(pc.Path)
	if path == "" {
		return nil, errors.New("wasm parser needs a path")
	}
	wp, err := protocol.NewWASMHostParserFromFile(ctx, path, protocol.WASMHostParserOptions{
		Name:         pc.Name,
		FunctionName: pc.Function,
		MaxOutputLen: uint32(pc.MaxOutputLen),
	})
	if err != nil {
		return nil, fmt.Errorf("wasm parser %q: %w", path, err)
	}
	return wp, nil
}
