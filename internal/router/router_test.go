package router

import (
	"testing"
	"time"
)

func up(addrs ...string) Route { return Route{Upstreams: addrs} }

func TestRouterExactAndWildcard(t *testing.T) {
	r := NewRouter(map[string]Route{
		"play.example.com":   up("10.0.0.1:25565"),
		"*.labs.example.com": up("10.0.0.2:25565"),
		"*.example.com":      up("10.0.0.3:25565"),
	}, nil)

	if rt, ok := r.Resolve("play.example.com"); !ok || rt.Upstreams[0] != "10.0.0.1:25565" || rt.Host != "play.example.com" {
		t.Fatalf("exact resolve failed: %v %+v", ok, rt)
	}
	if rt, ok := r.Resolve("a.labs.example.com"); !ok || rt.Upstreams[0] != "10.0.0.2:25565" || rt.Host != "*.labs.example.com" {
		t.Fatalf("wildcard resolve failed: %v %+v", ok, rt)
	}
	if rt, ok := r.Resolve("b.example.com"); !ok || rt.Upstreams[0] != "10.0.0.3:25565" {
		t.Fatalf("fallback wildcard resolve failed: %v %+v", ok, rt)
	}
	if _, ok := r.Resolve("example.com"); ok {
		t.Fatalf("wildcard should not match root domain")
	}
	if rt, ok := r.Resolve("PLAY.example.com.\x00FML\x00"); !ok || rt.Upstreams[0] != "10.0.0.1:25565" {
		t.Fatalf("normalized lookup failed: %v %+v", ok, rt)
	}
}

func TestRouterDefaultAndDisabled(t *testing.T) {
	def := Route{Return: "Unknown server $minecraft_server"}
	r := NewRouter(map[string]Route{
		"off.example.com":   {Upstreams: []string{"10.0.0.9:25565"}, Disabled: true},
		"cache.example.com": {Upstreams: []string{"10.0.0.8"}, CachePingTTL: 5 * time.Second},
	}, &def)

	if _, ok := r.Resolve("off.example.com"); ok {
		t.Fatalf("disabled route resolved")
	}
	rt, ok := r.Resolve("nowhere.example.org")
	if !ok || rt.Return != def.Return || rt.Host != "" {
		t.Fatalf("default route: %v %+v", ok, rt)
	}
	if rt, ok := r.Resolve(""); !ok || rt.Return == "" {
		t.Fatalf("empty host should use default route: %v %+v", ok, rt)
	}
	if rt, _ := r.Resolve("cache.example.com"); rt.CachePingTTL != 5*time.Second {
		t.Fatalf("cache ttl lost: %+v", rt)
	}

	r.Update(map[string]Route{"a.example.com": up("x:1")}, nil)
	if _, ok := r.Resolve("nowhere.example.org"); ok {
		t.Fatalf("default route survived update")
	}
	if hosts := r.Hosts(); len(hosts) != 1 || hosts[0] != "a.example.com" {
		t.Fatalf("hosts: %v", hosts)
	}
}

func TestRouterRouteWithoutTargetIsNotFound(t *testing.T) {
	r := NewRouter(map[string]Route{"empty.example.com": {}}, nil)
	if _, ok := r.Resolve("empty.example.com"); ok {
		t.Fatalf("route without upstreams or return resolved")
	}
}
