package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// routeSpec accepts the forms a route may take in a config file:
//
//	"play.example.com" = "10.0.0.1:25565"
//	"play.example.com" = ["10.0.0.1:25565", "10.0.0.2:25565"]
//	[routes."play.example.com"]
//	upstreams = ["10.0.0.1:25565"]
//	return = "Maintenance on $minecraft_server"
//	cache_ping_ttl_ms = 5000
//	disabled = false
type routeSpec struct {
	RouteConfig
}

type routeTable struct {
	Upstream       string   `yaml:"upstream"`
	Upstreams      []string `yaml:"upstreams"`
	Return         string   `yaml:"return"`
	CachePingTTLMs int64    `yaml:"cache_ping_ttl_ms"`
	Disabled       bool     `yaml:"disabled"`
}

func (t routeTable) route() RouteConfig {
	rc := RouteConfig{
		Return:       t.Return,
		CachePingTTL: time.Duration(t.CachePingTTLMs) * time.Millisecond,
		Disabled:     t.Disabled,
	}
	if u := strings.TrimSpace(t.Upstream); u != "" {
		rc.Upstreams = append(rc.Upstreams, u)
	}
	for _, u := range t.Upstreams {
		rc.Upstreams = append(rc.Upstreams, strings.TrimSpace(u))
	}
	return rc
}

// UnmarshalTOML implements toml.Unmarshaler.
func (r *routeSpec) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		r.RouteConfig = RouteConfig{Upstreams: []string{strings.TrimSpace(x)}}
		return nil
	case []any:
		ups, err := stringList(x)
		if err != nil {
			return err
		}
		r.RouteConfig = RouteConfig{Upstreams: ups}
		return nil
	case map[string]any:
		var t routeTable
		for k, val := range x {
			var err error
			switch k {
			case "upstream":
				t.Upstream, err = asString(k, val)
			case "upstreams":
				switch u := val.(type) {
				case []any:
					t.Upstreams, err = stringList(u)
				case string:
					t.Upstreams = []string{u}
				default:
					err = fmt.Errorf("upstreams: want list of strings, got %T", val)
				}
			case "return":
				t.Return, err = asString(k, val)
			case "cache_ping_ttl_ms":
				n, ok := val.(int64)
				if !ok {
					err = fmt.Errorf("cache_ping_ttl_ms: want integer, got %T", val)
				}
				t.CachePingTTLMs = n
			case "disabled":
				b, ok := val.(bool)
				if !ok {
					err = fmt.Errorf("disabled: want bool, got %T", val)
				}
				t.Disabled = b
			default:
				err = fmt.Errorf("unknown route key %q", k)
			}
			if err != nil {
				return err
			}
		}
		r.RouteConfig = t.route()
		return nil
	default:
		return fmt.Errorf("route: want string, list or table, got %T", v)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *routeSpec) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		r.RouteConfig = RouteConfig{Upstreams: []string{strings.TrimSpace(s)}}
		return nil
	case yaml.SequenceNode:
		var ups []string
		if err := n.Decode(&ups); err != nil {
			return err
		}
		for i := range ups {
			ups[i] = strings.TrimSpace(ups[i])
		}
		r.RouteConfig = RouteConfig{Upstreams: ups}
		return nil
	case yaml.MappingNode:
		var t routeTable
		if err := n.Decode(&t); err != nil {
			return err
		}
		r.RouteConfig = t.route()
		return nil
	default:
		return fmt.Errorf("line %d: route: want string, list or mapping", n.Line)
	}
}

func stringList(in []any) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("upstreams: want string, got %T", v)
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: want string, got %T", key, v)
	}
	return s, nil
}
