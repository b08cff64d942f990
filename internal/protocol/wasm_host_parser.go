package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"craftgate/internal/hostname"
)

// DefaultWASMFunction is the export a routing plugin must provide.
const DefaultWASMFunction = "craftgate_parse"

const (
	wasmNeedMore = 0
	wasmNoMatch  = 1
	wasmFatal    = ^uint64(0) // -1 as i64

	wasmPageSize = 1 << 16
)

// WASMHostParserOptions configures a plugin parser.
type WASMHostParserOptions struct {
	// Name defaults to "wasm:<path>".
	Name string
	// FunctionName defaults to DefaultWASMFunction.
	FunctionName string
	// MaxOutputLen caps the plugin result in bytes. Defaults to 255.
	MaxOutputLen uint32
	// MaxIdleInstances caps the instances kept between calls. Defaults to 8.
	MaxIdleInstances int
}

// WASMHostParser runs a routing parser compiled to WebAssembly.
//
// The plugin exports its linear memory as "memory" and a function
// craftgate_parse(input_len i32) i64. The prelude is written at offset 0.
// The function returns 0 for need-more, 1 for no-match, -1 for a fatal
// error, or len<<32|ptr pointing at its output. The first output line is the
// host; any following "name=value" lines are published as request vars.
type WASMHostParser struct {
	name   string
	path   string
	export string
	maxOut uint32

	rt       wazero.Runtime
	compiled wazero.CompiledModule

	// idle holds instances not currently running a parse.
	idle chan *wasmInstance

	closeOnce sync.Once
	closeErr  error
}

type wasmInstance struct {
	mod   api.Module
	mem   api.Memory
	parse api.Function
}

func NewWASMHostParserFromFile(ctx context.Context, path string, opts WASMHostParserOptions) (*WASMHostParser, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewWASMHostParser(ctx, code, path, opts)
}

// NewWASMHostParser compiles code and instantiates it once so a plugin with
// a missing export or memory fails here rather than on the first connection.
func NewWASMHostParser(ctx context.Context, code []byte, path string, opts WASMHostParserOptions) (*WASMHostParser, error) {
	p := &WASMHostParser{
		name:   opts.Name,
		path:   path,
		export: opts.FunctionName,
		maxOut: opts.MaxOutputLen,
	}
	if p.name == "" {
		p.name = "wasm"
		if path != "" {
			p.name += ":" + path
		}
	}
	if p.export == "" {
		p.export = DefaultWASMFunction
	}
	if p.maxOut == 0 {
		p.maxOut = 255
	}
	idle := opts.MaxIdleInstances
	if idle <= 0 {
		idle = 8
	}
	p.idle = make(chan *wasmInstance, idle)

	p.rt = wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, p.rt)

	compiled, err := p.rt.CompileModule(ctx, code)
	if err != nil {
		_ = p.rt.Close(ctx)
		return nil, fmt.Errorf("protocol: compile wasm parser %q: %w", p.name, err)
	}
	p.compiled = compiled

	inst, err := p.instantiate(ctx)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.release(inst)
	return p, nil
}

func (p *WASMHostParser) Name() string { return p.name }

// Path returns the file the plugin was loaded from, if any.
func (p *WASMHostParser) Path() string { return p.path }

// Close releases the runtime and every instance. Parse calls racing with
// Close fail with a wazero error.
func (p *WASMHostParser) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
	drain:
		for {
			select {
			case inst := <-p.idle:
				_ = inst.mod.Close(ctx)
			default:
				break drain
			}
		}
		if p.compiled != nil {
			p.closeErr = errors.Join(p.closeErr, p.compiled.Close(ctx))
		}
		p.closeErr = errors.Join(p.closeErr, p.rt.Close(ctx))
	})
	return p.closeErr
}

func (p *WASMHostParser) Parse(prelude []byte) (*Metadata, error) {
	ctx := context.Background()

	var inst *wasmInstance
	select {
	case inst = <-p.idle:
	default:
		var err error
		if inst, err = p.instantiate(ctx); err != nil {
			return nil, err
		}
	}

	out, err := p.call(ctx, inst, prelude)
	switch {
	case err == nil, errors.Is(err, ErrNeedMoreData), errors.Is(err, ErrNoMatch):
		p.release(inst)
	default:
		// A trapped instance may hold corrupt state.
		_ = inst.mod.Close(ctx)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	md := decodeWASMOutput(out)
	if md.Host == "" {
		return nil, ErrNoMatch
	}
	md.Parser = p.name
	return md, nil
}

func (p *WASMHostParser) instantiate(ctx context.Context) (*wasmInstance, error) {
	// Instances are anonymous so several can coexist in one runtime.
	mod, err := p.rt.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("protocol: instantiate wasm parser %q: %w", p.name, err)
	}
	inst := &wasmInstance{mod: mod, mem: mod.Memory(), parse: mod.ExportedFunction(p.export)}
	switch {
	case inst.mem == nil:
		err = fmt.Errorf("protocol: wasm parser %q exports no memory", p.name)
	case inst.parse == nil:
		err = fmt.Errorf("protocol: wasm parser %q has no export %q", p.name, p.export)
	}
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	return inst, nil
}

func (p *WASMHostParser) release(inst *wasmInstance) {
	select {
	case p.idle <- inst:
	default:
		_ = inst.mod.Close(context.Background())
	}
}

// call runs the plugin and returns a copy of its output.
func (p *WASMHostParser) call(ctx context.Context, inst *wasmInstance, prelude []byte) ([]byte, error) {
	n := uint32(len(prelude))
	if size := inst.mem.Size(); n > size {
		pages := (n - size + wasmPageSize - 1) / wasmPageSize
		if _, ok := inst.mem.Grow(pages); !ok {
			return nil, fmt.Errorf("protocol: wasm parser %q: grow memory by %d pages", p.name, pages)
		}
	}
	if n > 0 && !inst.mem.Write(0, prelude) {
		return nil, fmt.Errorf("protocol: wasm parser %q: write input", p.name)
	}

	res, err := inst.parse.Call(ctx, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("protocol: wasm parser %q: %w", p.name, err)
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("protocol: wasm parser %q returned %d values", p.name, len(res))
	}

	switch r := res[0]; r {
	case wasmNeedMore:
		return nil, ErrNeedMoreData
	case wasmNoMatch:
		return nil, ErrNoMatch
	case wasmFatal:
		return nil, fmt.Errorf("protocol: wasm parser %q reported a fatal error", p.name)
	default:
		ptr, size := uint32(r), uint32(r>>32)
		if size == 0 {
			return nil, ErrNoMatch
		}
		if size > p.maxOut {
			return nil, fmt.Errorf("protocol: wasm parser %q output is %d bytes (limit %d)", p.name, size, p.maxOut)
		}
		view, ok := inst.mem.Read(ptr, size)
		if !ok {
			return nil, fmt.Errorf("protocol: wasm parser %q output out of range", p.name)
		}
		return bytes.Clone(view), nil
	}
}

func decodeWASMOutput(out []byte) *Metadata {
	first, rest, _ := bytes.Cut(out, []byte{'\n'})
	md := &Metadata{Host: hostname.Normalize(string(bytes.TrimSpace(first))), Vars: Vars{}}
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte{'\n'})
		k, v, ok := bytes.Cut(line, []byte{'='})
		k = bytes.TrimSpace(k)
		if !ok || len(k) == 0 {
			continue
		}
		md.Vars[string(k)] = string(bytes.TrimSpace(v))
	}
	return md
}

var _ HostParser = (*WASMHostParser)(nil)
