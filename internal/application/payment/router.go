package payment

import (
	"fmt"
	"strings"
	"sync"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

// RouteTable maps a payment method to an adapter name. Regions override the
// defaults for an exact list of countries.
type RouteTable struct {
	Defaults map[dompay.Method]string
	Regions  []Region
}

type Region struct {
	Name      string
	Countries []string
	Routes    map[dompay.Method]string
}

// DefaultRouteTable sends online methods from Turkey through the redirect gateway.
func DefaultRouteTable() RouteTable {
	return RouteTable{
		Defaults: map[dompay.Method]string{
			dompay.MethodCash:         dompay.AdapterCash,
			dompay.MethodDirectCard:   dompay.AdapterDirectCapture,
			dompay.MethodEmbeddedForm: dompay.AdapterEmbeddedForm,
			dompay.MethodRedirect:     dompay.AdapterRedirectPoll,
		},
		Regions: []Region{{
			Name:      "TR",
			Countries: []string{"TR", "TURKEY", "TÜRKIYE", "TURKIYE"},
			Routes: map[dompay.Method]string{
				dompay.MethodDirectCard:   dompay.AdapterRedirectPoll,
				dompay.MethodEmbeddedForm: dompay.AdapterRedirectPoll,
				dompay.MethodRedirect:     dompay.AdapterRedirectPoll,
			},
		}},
	}
}

type RouteContext struct {
	Country string
}

type Router struct {
	mu       sync.RWMutex
	adapters map[string]dompay.Adapter
	defaults map[dompay.Method]string
	regions  map[string]map[dompay.Method]string // normalized country -> routes
}

func NewRouter(table RouteTable) (*Router, error) {
	r := &Router{
		adapters: make(map[string]dompay.Adapter),
		defaults: make(map[dompay.Method]string, len(table.Defaults)),
		regions:  make(map[string]map[dompay.Method]string),
	}
	for m, name := range table.Defaults {
		if _, err := dompay.ParseMethod(string(m)); err != nil {
			return nil, fmt.Errorf("router: defaults: %w", err)
		}
		r.defaults[m] = name
	}
	for _, reg := range table.Regions {
		for m := range reg.Routes {
			if _, err := dompay.ParseMethod(string(m)); err != nil {
				return nil, fmt.Errorf("router: region %s: %w", reg.Name, err)
			}
		}
		for _, c := range reg.Countries {
			key := normalizeCountry(c)
			if key == "" {
				continue
			}
			if _, dup := r.regions[key]; dup {
				return nil, fmt.Errorf("router: country %q listed in more than one region", c)
			}
			r.regions[key] = reg.Routes
		}
	}
	// cash never leaves the counter
	r.defaults[dompay.MethodCash] = dompay.AdapterCash
	return r, nil
}

func normalizeCountry(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Register adds or replaces an adapter under its own name.
func (r *Router) Register(a dompay.Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Resolve returns the adapter name for method in the given context.
func (r *Router) Resolve(method dompay.Method, rc RouteContext) (string, error) {
	const op = "route payment"
	if _, err := dompay.ParseMethod(string(method)); err != nil {
		return "", err
	}
	name := r.defaults[method]
	if method != dompay.MethodCash {
		if routes, ok := r.regions[normalizeCountry(rc.Country)]; ok {
			if override, ok := routes[method]; ok {
				name = override
			}
		}
	}
	if name == "" {
		return "", dompay.UnsupportedMethod(op, string(method))
	}

	r.mu.RLock()
	_, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return "", dompay.UnsupportedMethod(op, string(method))
	}
	return name, nil
}

// Select resolves and returns the adapter for method.
func (r *Router) Select(method dompay.Method, rc RouteContext) (dompay.Adapter, error) {
	name, err := r.Resolve(method, rc)
	if err != nil {
		return nil, err
	}
	return r.Lookup(name)
}

// Lookup returns the adapter pinned on an intent.
func (r *Router) Lookup(name string) (dompay.Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, dompay.UnsupportedMethod("lookup adapter", name)
	}
	return a, nil
}
