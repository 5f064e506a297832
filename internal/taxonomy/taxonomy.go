// Package taxonomy holds the static tag->category map and the per-tag weight
// table used by similarity scoring. The data ships as YAML: an embedded
// default plus an optional override file.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type fileFormat struct {
	Categories map[string][]string `yaml:"categories"`
	TagWeights map[string]float64  `yaml:"tag_weights"`
}

type Taxonomy struct {
	categoryByTag map[string]string
	weightByTag   map[string]float64
	categories    []string
}

// Default loads the embedded taxonomy. The embedded file is validated by
// tests, so failure here is a programmer error.
func Default() *Taxonomy {
	t, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded taxonomy is invalid: %v", err))
	}
	return t
}

// Load reads a taxonomy from the given YAML file.
func Load(path string) (*Taxonomy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	t, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse taxonomy file %q: %w", path, err)
	}
	return t, nil
}

func parse(raw []byte) (*Taxonomy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("taxonomy has no categories")
	}

	t := &Taxonomy{
		categoryByTag: make(map[string]string),
		weightByTag:   make(map[string]float64),
	}
	for category, tags := range f.Categories {
		category = normalize(category)
		if category == "" {
			return nil, fmt.Errorf("taxonomy has an empty category name")
		}
		t.categories = append(t.categories, category)
		for _, tag := range tags {
			tag = normalize(tag)
			if tag == "" {
				continue
			}
			t.categoryByTag[tag] = category
		}
	}
	sort.Strings(t.categories)

	for tag, w := range f.TagWeights {
		if w <= 0 {
			return nil, fmt.Errorf("tag weight for %q must be positive, got %v", tag, w)
		}
		t.weightByTag[normalize(tag)] = w
	}
	return t, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CategoryOf returns the category for a tag, if the tag is categorized.
func (t *Taxonomy) CategoryOf(tag string) (string, bool) {
	c, ok := t.categoryByTag[normalize(tag)]
	return c, ok
}

// CategoriesOf maps a tag set to its induced category set (deduplicated,
// sorted). Uncategorized tags induce nothing.
func (t *Taxonomy) CategoriesOf(tags []string) []string {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		if c, ok := t.CategoryOf(tag); ok {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Weight returns the similarity weight for a tag, defaulting to 1.0.
func (t *Taxonomy) Weight(tag string) float64 {
	if w, ok := t.weightByTag[normalize(tag)]; ok {
		return w
	}
	return 1.0
}

// CategoryCount is the number of known categories.
func (t *Taxonomy) CategoryCount() int {
	return len(t.categories)
}

// Categories lists all known categories, sorted.
func (t *Taxonomy) Categories() []string {
	out := make([]string, len(t.categories))
	copy(out, t.categories)
	return out
}
