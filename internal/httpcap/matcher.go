package httpcap

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flavio/hermit-wasm/internal/httpmsg"
)

// noopHandler satisfies chi.Mux.Handle's signature; the matcher never
// calls ServeHTTP, it only asks chi's tree whether a path matches.
var noopHandler = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// routeEntry pairs one registered pattern's chi-backed single-route
// matcher with the handler name it resolves to.
type routeEntry struct {
	mux         *chi.Mux
	handlerName string
}

// methodMatcher is one method's ordered list of route patterns. Routes
// must win in registration order, but chi's combined Mux prioritizes by
// specificity (static > param > wildcard), so each pattern gets its own
// single-route chi.Mux and the matcher tries them in registration order
// itself. chi still does the :param segment extraction on every match.
type methodMatcher struct {
	entries []routeEntry
}

// newMethodMatcher builds the matcher for one HTTP method from the
// routes snapshot, preserving insertion order.
func newMethodMatcher(routes []Route, method Method) *methodMatcher {
	m := &methodMatcher{}
	for _, r := range routes {
		if r.Method != method {
			continue
		}
		mx := chi.NewRouter()
		mx.Handle(chiPattern(r.Pattern), noopHandler)
		m.entries = append(m.entries, routeEntry{mux: mx, handlerName: normalizeHandlerName(r.HandlerName)})
	}
	return m
}

// chiPattern rewrites :param segments into chi's {param} placeholder
// syntax. Routes are declared with colon-prefixed parameters; chi would
// treat ":id" as a literal path segment.
func chiPattern(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		if len(s) > 1 && strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

// empty reports whether no route was registered for this method.
func (m *methodMatcher) empty() bool {
	return m == nil || len(m.entries) == 0
}

// match tries each registered pattern in order and returns the first
// one whose path matches, along with its extracted :param values.
func (m *methodMatcher) match(path string) (handlerName string, params []httpmsg.Pair, ok bool) {
	if m == nil {
		return "", nil, false
	}
	for _, e := range m.entries {
		rctx := chi.NewRouteContext()
		// Handle registered the pattern for every method, so Find can
		// probe with GET regardless of which method group this is.
		if found := e.mux.Find(rctx, http.MethodGet, path); found == "" {
			continue
		}
		params = make([]httpmsg.Pair, 0, len(rctx.URLParams.Keys))
		for i, k := range rctx.URLParams.Keys {
			params = append(params, httpmsg.Pair{Name: k, Value: rctx.URLParams.Values[i]})
		}
		return e.handlerName, params, true
	}
	return "", nil, false
}

// routeTable holds one methodMatcher per registered method, built once
// per worker from the Server Handle's route snapshot.
type routeTable struct {
	byMethod map[Method]*methodMatcher
}

// newRouteTable groups routes by method and builds a matcher for each.
func newRouteTable(routes []Route) *routeTable {
	grouped := map[Method][]Route{}
	for _, r := range routes {
		grouped[r.Method] = append(grouped[r.Method], r)
	}
	rt := &routeTable{byMethod: map[Method]*methodMatcher{}}
	for method, rs := range grouped {
		rt.byMethod[method] = newMethodMatcher(rs, method)
	}
	return rt
}

// handlerNames returns every distinct handler name this table would
// route to, used to drive blocking registration at worker startup.
func (rt *routeTable) handlerNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range rt.byMethod {
		for _, e := range m.entries {
			if !seen[e.handlerName] {
				seen[e.handlerName] = true
				names = append(names, e.handlerName)
			}
		}
	}
	return names
}

// match dispatches on method, then delegates to that method's matcher.
// hasMethod distinguishes "no route exists for this method at all"
// (a 400) from "routes exist but none match this path" (a 404).
func (rt *routeTable) match(method, path string) (handlerName string, params []httpmsg.Pair, hasMethod, matched bool) {
	m, ok := rt.byMethod[Method(method)]
	if !ok || m.empty() {
		return "", nil, false, false
	}
	name, params, ok := m.match(path)
	return name, params, true, ok
}

// normalizeHandlerName rewrites underscores to hyphens. Guest exports
// follow the hyphenated naming convention for exported functions, while
// routes may be declared with either spelling.
func normalizeHandlerName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}
