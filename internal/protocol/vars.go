package protocol

import (
	"maps"
	"os"
	"slices"
)

// Request variable names published by the built-in parsers.
const (
	VarMinecraftServer    = "minecraft_server"
	VarMinecraftPort      = "minecraft_port"
	VarMinecraftVersion   = "minecraft_version"
	VarMinecraftNextState = "minecraft_next_state"
	VarSSLServerName      = "ssl_preread_server_name"
	VarSSLALPNProtocols   = "ssl_preread_alpn_protocols"
	VarHTTPHost           = "http_host"
)

// Vars holds request variables by name, without the leading '$'.
type Vars map[string]string

// Expand replaces $name and ${name} references in template. Unknown names
// expand to the empty string.
func (v Vars) Expand(template string) string {
	return os.Expand(template, func(name string) string {
		return v[name]
	})
}

// With returns a copy of v with the entries of other added on top.
func (v Vars) With(other Vars) Vars {
	out := make(Vars, len(v)+len(other))
	maps.Copy(out, v)
	maps.Copy(out, other)
	return out
}

// Names returns the variable names in sorted order.
func (v Vars) Names() []string {
	return slices.Sorted(maps.Keys(v))
}
