package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DescriptorMatrix resolves the -d flag's value (spec.md §6.3): either a
// bare scalar applied to every port, or a comma-separated list of
// per-port or per-range overrides in "k.v" / "l-m.v" form.
type DescriptorMatrix struct {
	Scalar    int
	Overrides map[int]int
}

// For returns the resolved descriptor depth for the given port index.
func (m DescriptorMatrix) For(port int) int {
	if v, ok := m.Overrides[port]; ok {
		return v
	}
	return m.Scalar
}

// ParseDescriptorMatrix parses the -d MATRIX syntax.
func ParseDescriptorMatrix(s string) (DescriptorMatrix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DescriptorMatrix{}, fmt.Errorf("empty descriptor matrix")
	}

	if !strings.Contains(s, ",") && !strings.Contains(s, ".") {
		v, err := strconv.Atoi(s)
		if err != nil {
			return DescriptorMatrix{}, fmt.Errorf("invalid scalar descriptor count %q: %w", s, err)
		}
		return DescriptorMatrix{Scalar: v, Overrides: map[int]int{}}, nil
	}

	m := DescriptorMatrix{Overrides: map[int]int{}}
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		dot := strings.LastIndex(term, ".")
		if dot < 0 {
			return DescriptorMatrix{}, fmt.Errorf("term %q missing '.value'", term)
		}
		portSpec, valueSpec := term[:dot], term[dot+1:]
		value, err := strconv.Atoi(valueSpec)
		if err != nil {
			return DescriptorMatrix{}, fmt.Errorf("term %q has invalid value %q: %w", term, valueSpec, err)
		}

		if dash := strings.Index(portSpec, "-"); dash >= 0 {
			lo, err := strconv.Atoi(portSpec[:dash])
			if err != nil {
				return DescriptorMatrix{}, fmt.Errorf("term %q has invalid range start: %w", term, err)
			}
			hi, err := strconv.Atoi(portSpec[dash+1:])
			if err != nil {
				return DescriptorMatrix{}, fmt.Errorf("term %q has invalid range end: %w", term, err)
			}
			if lo > hi {
				return DescriptorMatrix{}, fmt.Errorf("term %q has inverted range", term)
			}
			for p := lo; p <= hi; p++ {
				m.Overrides[p] = value
			}
			continue
		}

		port, err := strconv.Atoi(portSpec)
		if err != nil {
			return DescriptorMatrix{}, fmt.Errorf("term %q has invalid port %q: %w", term, portSpec, err)
		}
		m.Overrides[port] = value
	}
	return m, nil
}
