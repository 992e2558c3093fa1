// Package resource generates the mineral veins of a chunk.
package resource

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Type is one mineral category of the catalog.
type Type struct {
	Name       string   `yaml:"name"`
	Category   string   `yaml:"category"`
	Rarity     float64  `yaml:"rarity"`
	MinSize    float64  `yaml:"minSize"`
	MaxSize    float64  `yaml:"maxSize"`
	Complexity float64  `yaml:"complexity"`
	Fissile    bool     `yaml:"fissile"`
	Tags       []string `yaml:"tags"`
}

// Catalog is the immutable set of mineral types and formations.
type Catalog struct {
	Formations []string `yaml:"formations"`
	Types      []Type   `yaml:"types"`

	byName map[string]int
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Types) == 0 {
		return nil, errors.New("catalog has no types")
	}
	if len(c.Formations) == 0 {
		return nil, errors.New("catalog has no formations")
	}

	c.byName = make(map[string]int, len(c.Types))
	for i, t := range c.Types {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("catalog type %d has no name", i)
		case t.Rarity <= 0 || t.Rarity > 1:
			return nil, fmt.Errorf("catalog type %s: rarity %v outside (0,1]", t.Name, t.Rarity)
		case t.MinSize <= 0 || t.MaxSize < t.MinSize:
			return nil, fmt.Errorf("catalog type %s: invalid size range [%v, %v]", t.Name, t.MinSize, t.MaxSize)
		case t.Complexity <= 0:
			return nil, fmt.Errorf("catalog type %s: complexity must be positive", t.Name)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("catalog type %s declared twice", t.Name)
		}
		c.byName[t.Name] = i
	}
	return &c, nil
}

// Lookup returns the named type.
func (c *Catalog) Lookup(name string) (Type, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Type{}, false
	}
	return c.Types[i], true
}

// Weight is the selection weight of a type: the base rarity boosted for
// common types and penalized for rare and ultra-rare ones.
func Weight(rarity float64) float64 {
	switch {
	case rarity <= 0.1:
		return rarity * 0.1
	case rarity <= 0.3:
		return rarity * 0.3
	case rarity >= 0.7:
		return rarity * 1.5
	}
	return rarity
}

// weightedTypes is the cumulative weight line used for type selection.
type weightedTypes struct {
	cumulative []float64
	total      float64
	heaviest   int
}

func (c *Catalog) weights() weightedTypes {
	w := weightedTypes{cumulative: make([]float64, len(c.Types))}
	best := -1.0
	for i, t := range c.Types {
		wt := Weight(t.Rarity)
		w.total += wt
		w.cumulative[i] = w.total
		if wt > best {
			best = wt
			w.heaviest = i
		}
	}
	return w
}

// pick maps u in [0,1] onto the cumulative line. When rounding leaves u past
// the last boundary the heaviest type wins.
func (w weightedTypes) pick(u float64) int {
	target := u * w.total
	for i, cum := range w.cumulative {
		if target < cum {
			return i
		}
	}
	return w.heaviest
}
