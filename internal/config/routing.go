package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	appPayment "github.com/Zhima-Mochi/payment-orchestrator/internal/application/payment"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

// Routing is the on-disk form of the provider route table:
//
//	defaults:
//	  cash: cash
//	  direct_card: direct_capture
//	regions:
//	  - name: TR
//	    countries: [TR, TURKEY]
//	    routes:
//	      direct_card: redirect_poll
type Routing struct {
	Defaults map[string]string `yaml:"defaults"`
	Regions  []RoutingRegion   `yaml:"regions"`
}

type RoutingRegion struct {
	Name      string            `yaml:"name"`
	Countries []string          `yaml:"countries"`
	Routes    map[string]string `yaml:"routes"`
}

// LoadRouting reads a route table from path. An empty path yields the
// built-in table.
func LoadRouting(path string) (appPayment.RouteTable, error) {
	if path == "" {
		return appPayment.DefaultRouteTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return appPayment.RouteTable{}, fmt.Errorf("config: read routing file: %w", err)
	}
	return ParseRouting(data)
}

// ParseRouting decodes YAML into a route table. Unknown keys and unknown
// payment methods are rejected.
func ParseRouting(data []byte) (appPayment.RouteTable, error) {
	var r Routing
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return appPayment.RouteTable{}, fmt.Errorf("config: parse routing: %w", err)
	}
	return r.Table()
}

func (r Routing) Table() (appPayment.RouteTable, error) {
	defaults, err := routes(r.Defaults)
	if err != nil {
		return appPayment.RouteTable{}, fmt.Errorf("config: routing defaults: %w", err)
	}
	table := appPayment.RouteTable{Defaults: defaults}
	for _, reg := range r.Regions {
		rs, err := routes(reg.Routes)
		if err != nil {
			return appPayment.RouteTable{}, fmt.Errorf("config: routing region %q: %w", reg.Name, err)
		}
		if len(reg.Countries) == 0 {
			return appPayment.RouteTable{}, fmt.Errorf("config: routing region %q has no countries", reg.Name)
		}
		table.Regions = append(table.Regions, appPayment.Region{
			Name:      reg.Name,
			Countries: reg.Countries,
			Routes:    rs,
		})
	}
	return table, nil
}

func routes(in map[string]string) (map[dompay.Method]string, error) {
	out := make(map[dompay.Method]string, len(in))
	for method, adapter := range in {
		m, err := dompay.ParseMethod(method)
		if err != nil {
			return nil, err
		}
		if adapter == "" {
			return nil, fmt.Errorf("method %s has no adapter", m)
		}
		out[m] = adapter
	}
	return out, nil
}
