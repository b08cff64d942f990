package router

import (
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"craftgate/internal/hostname"
)

// Route is what a host name resolves to.
type Route struct {
	// Host is the configured key that matched ("" for the default route).
	Host string

	// Upstreams are tried in order. Entries may reference request variables
	// such as $minecraft_server; they are expanded per connection.
	Upstreams []string

	// Return, when non-empty, answers the client with a disconnect message
	// instead of proxying. It may reference request variables.
	Return string

	// CachePingTTL enables status (server list ping) caching when > 0.
	CachePingTTL time.Duration

	// Disabled routes resolve as not found.
	Disabled bool
}

type UpstreamResolver interface {
	Resolve(host string) (Route, bool)
}

type compiledRoutes struct {
	exact    map[string]Route
	wildcard []wildRoute
	def      *Route
}

type wildRoute struct {
	suffix string
	route  Route
}

// Router resolves a hostname to a route.
// Reads are lock-free via atomic snapshots; updates swap the snapshot.
type Router struct {
	v atomic.Pointer[compiledRoutes]
}

// NewRouter builds a router. def is used when no host matches; nil means
// unmatched hosts are rejected.
func NewRouter(routes map[string]Route, def *Route) *Router {
	r := &Router{}
	r.Update(routes, def)
	return r
}

func (r *Router) Update(routes map[string]Route, def *Route) {
	cr := &compiledRoutes{exact: map[string]Route{}}
	for k, v := range routes {
		k = strings.TrimSpace(strings.ToLower(k))
		if k == "" {
			continue
		}
		v.Upstreams = slices.Clone(v.Upstreams)
		if strings.HasPrefix(k, "*.") && len(k) > 2 {
			v.Host = k
			suffix := hostname.Normalize(strings.TrimPrefix(k, "*."))
			cr.wildcard = append(cr.wildcard, wildRoute{suffix: suffix, route: v})
			continue
		}
		v.Host = k
		cr.exact[hostname.Normalize(k)] = v
	}

	// Prefer more specific wildcards: longer suffix first.
	sort.Slice(cr.wildcard, func(i, j int) bool {
		if len(cr.wildcard[i].suffix) != len(cr.wildcard[j].suffix) {
			return len(cr.wildcard[i].suffix) > len(cr.wildcard[j].suffix)
		}
		return cr.wildcard[i].suffix < cr.wildcard[j].suffix
	})

	if def != nil {
		d := *def
		d.Host = ""
		d.Upstreams = slices.Clone(d.Upstreams)
		cr.def = &d
	}

	r.v.Store(cr)
}

func (r *Router) Resolve(host string) (Route, bool) {
	cr := r.v.Load()
	if cr == nil {
		return Route{}, false
	}

	rt, ok := cr.lookup(hostname.Normalize(host))
	if !ok {
		return Route{}, false
	}
	if rt.Disabled || (len(rt.Upstreams) == 0 && rt.Return == "") {
		return Route{}, false
	}
	return rt, true
}

func (cr *compiledRoutes) lookup(host string) (Route, bool) {
	if host != "" {
		if rt, ok := cr.exact[host]; ok {
			return rt, true
		}

		for _, wr := range cr.wildcard {
			if host == wr.suffix {
				continue
			}
			if strings.HasSuffix(host, "."+wr.suffix) {
				return wr.route, true
			}
		}
	}

	if cr.def != nil {
		return *cr.def, true
	}
	return Route{}, false
}

// Hosts returns the configured host keys, sorted.
func (r *Router) Hosts() []string {
	cr := r.v.Load()
	if cr == nil {
		return nil
	}
	out := make([]string, 0, len(cr.exact)+len(cr.wildcard))
	for _, rt := range cr.exact {
		out = append(out, rt.Host)
	}
	for _, wr := range cr.wildcard {
		out = append(out, wr.route.Host)
	}
	sort.Strings(out)
	return out
}
