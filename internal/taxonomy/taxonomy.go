// Package taxonomy holds the closed set of expense categories and the
// subcategories valid for each of them.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrUnknownCategory is returned when a category cannot be coerced into the
// taxonomy because no fallback category is configured.
var ErrUnknownCategory = errors.New("unknown category")

// Category is a top-level expense category.
type Category struct {
	Name          string        `yaml:"name" json:"name"`
	Label         string        `yaml:"label,omitempty" json:"label,omitempty"`
	Aliases       []string      `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Keywords      []string      `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Subcategories []Subcategory `yaml:"subcategories,omitempty" json:"subcategories,omitempty"`
}

// Subcategory is only valid under its parent Category.
type Subcategory struct {
	Name     string   `yaml:"name" json:"name"`
	Aliases  []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Taxonomy is immutable after construction and safe for concurrent use.
type Taxonomy struct {
	version    int
	fallback   string
	categories []Category

	byName map[string]int                // folded name or alias -> index into categories
	subs   map[string]map[string]string // category -> folded sub name/alias -> canonical sub
}

// New builds a taxonomy from its categories. Names are canonicalized to
// lower case; fallback must name one of the categories when set.
func New(version int, fallback string, categories []Category) (*Taxonomy, error) {
	if version <= 0 {
		return nil, fmt.Errorf("taxonomy: version must be positive, got %d", version)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("taxonomy: no categories defined")
	}

	t := &Taxonomy{
		version: version,
		byName:  make(map[string]int),
		subs:    make(map[string]map[string]string),
	}

	for _, c := range categories {
		c.Name = canonical(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("taxonomy: category with empty name")
		}
		if _, dup := t.byName[fold(c.Name)]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate category %q", c.Name)
		}

		idx := len(t.categories)
		t.byName[fold(c.Name)] = idx
		for _, a := range c.Aliases {
			if _, dup := t.byName[fold(a)]; !dup {
				t.byName[fold(a)] = idx
			}
		}

		c.Subcategories = append([]Subcategory(nil), c.Subcategories...)
		subs := make(map[string]string)
		for i, s := range c.Subcategories {
			s.Name = canonical(s.Name)
			c.Subcategories[i] = s
			subs[fold(s.Name)] = s.Name
			for _, a := range s.Aliases {
				subs[fold(a)] = s.Name
			}
		}
		t.subs[c.Name] = subs
		t.categories = append(t.categories, c)
	}

	if fallback != "" {
		fallback = canonical(fallback)
		if _, ok := t.subs[fallback]; !ok {
			return nil, fmt.Errorf("taxonomy: fallback %q is not a category", fallback)
		}
		t.fallback = fallback
	}

	return t, nil
}

// Version identifies the taxonomy document revision.
func (t *Taxonomy) Version() int { return t.version }

// Fallback is the category unknown input is mapped to, or "".
func (t *Taxonomy) Fallback() string { return t.fallback }

// Categories returns the categories in document order.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	copy(out, t.categories)
	return out
}

// Label is the display name of a category; the canonical name when the
// document defines none.
func (t *Taxonomy) Label(category string) string {
	if idx, ok := t.byName[fold(category)]; ok {
		if c := t.categories[idx]; c.Label != "" {
			return c.Label
		}
		return t.categories[idx].Name
	}
	return category
}

// Subcategories returns the canonical subcategory names valid for category.
func (t *Taxonomy) Subcategories(category string) []string {
	subs := t.subs[canonical(category)]
	seen := make(map[string]bool, len(subs))
	out := make([]string, 0, len(subs))
	for _, name := range subs {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Valid reports whether the pair is already in canonical taxonomy form.
func (t *Taxonomy) Valid(category, subcategory string) bool {
	subs, ok := t.subs[category]
	if !ok {
		return false
	}
	if subcategory == "" {
		return true
	}
	return subs[fold(subcategory)] == subcategory
}

// Resolve maps free-form category and subcategory names onto the taxonomy.
// Matching ignores case, surrounding whitespace and accents, and honors
// aliases. known is false when the category had to be replaced by the
// fallback. A subcategory that does not belong to the resolved category is
// dropped.
func (t *Taxonomy) Resolve(category, subcategory string) (cat, sub string, known bool) {
	idx, ok := t.byName[fold(category)]
	if !ok {
		return t.fallback, "", false
	}
	cat = t.categories[idx].Name
	if subcategory != "" {
		sub = t.subs[cat][fold(subcategory)]
	}
	return cat, sub, true
}

// Coerce is Resolve with an error for input that cannot be placed at all.
func (t *Taxonomy) Coerce(category, subcategory string) (string, string, error) {
	cat, sub, _ := t.Resolve(category, subcategory)
	if cat == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return cat, sub, nil
}

// MatchKeywords returns the first category/subcategory whose keyword appears
// in text. Categories are scanned in document order.
func (t *Taxonomy) MatchKeywords(text string) (cat, sub string, ok bool) {
	haystack := " " + fold(text) + " "
	contains := func(kw string) bool {
		kw = fold(kw)
		return kw != "" && strings.Contains(haystack, " "+kw+" ")
	}

	for _, c := range t.categories {
		for _, s := range c.Subcategories {
			for _, kw := range s.Keywords {
				if contains(kw) {
					return c.Name, s.Name, true
				}
			}
		}
		for _, kw := range c.Keywords {
			if contains(kw) {
				return c.Name, "", true
			}
		}
	}
	return "", "", false
}

func canonical(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// fold normalizes for comparison: lower case, no accents, punctuation
// treated as spaces, single spaces.
func fold(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, stripMarks, norm.NFC), s)
	if err != nil {
		stripped = s
	}
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}
