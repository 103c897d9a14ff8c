// Package taxonomy maps free-text category labels onto a closed set of
// canonical tags.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Tag is a canonical category.
type Tag string

const (
	AI             Tag = "ai"
	Fintech        Tag = "fintech"
	Health         Tag = "health"
	Climate        Tag = "climate"
	Crypto         Tag = "crypto"
	DeveloperTools Tag = "developer-tools"
	Deeptech       Tag = "deeptech"
	Enterprise     Tag = "enterprise"
	SaaS           Tag = "saas"
	Consumer       Tag = "consumer"
	Marketplace    Tag = "marketplace"
	Edtech         Tag = "edtech"
	Other          Tag = "other"
)

// Rule maps any label containing one of Keywords to Tag. Labels are
// matched with punctuation folded to spaces and a space on either side,
// so a keyword written as " ai " only matches the whole word.
type Rule struct {
	Tag      Tag      `yaml:"tag"`
	Keywords []string `yaml:"keywords"`
}

// Table is an immutable, versioned category taxonomy. Rules are evaluated
// in order and the first rule with a matching keyword wins, so moving a
// rule changes the mapping.
type Table struct {
	version  string
	rules    []Rule
	adjacent map[Tag]map[Tag]bool
}

// New builds a table from ordered rules and adjacency pairs. Keywords are
// lowercased; adjacency is made symmetric.
func New(version string, rules []Rule, adjacency [][2]Tag) (*Table, error) {
	if version == "" {
		return nil, fmt.Errorf("taxonomy version must not be empty")
	}
	t := &Table{
		version:  version,
		rules:    make([]Rule, 0, len(rules)),
		adjacent: make(map[Tag]map[Tag]bool),
	}
	for i, r := range rules {
		if r.Tag == "" || r.Tag == Other {
			return nil, fmt.Errorf("rule %d: tag %q is not assignable", i, r.Tag)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, r.Tag)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) != "" {
				kws = append(kws, strings.ToLower(kw))
			}
		}
		t.rules = append(t.rules, Rule{Tag: r.Tag, Keywords: kws})
	}
	for _, pair := range adjacency {
		a, b := pair[0], pair[1]
		if a == b || a == Other || b == Other {
			continue
		}
		t.link(a, b)
		t.link(b, a)
	}
	return t, nil
}

func (t *Table) link(a, b Tag) {
	if t.adjacent[a] == nil {
		t.adjacent[a] = make(map[Tag]bool)
	}
	t.adjacent[a][b] = true
}

// Version returns the taxonomy version label.
func (t *Table) Version() string { return t.version }

// Normalize maps a raw label to exactly one canonical tag, or Other.
func (t *Table) Normalize(raw string) Tag {
	folded := fold(raw)
	if strings.TrimSpace(folded) == "" {
		return Other
	}
	for _, r := range t.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(folded, kw) {
				return r.Tag
			}
		}
	}
	return Other
}

// fold lowercases s, replaces every rune that is not a letter or digit
// with a space and pads the result with one space on each side.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return b.String()
}

// Adjacent reports whether two distinct tags are related.
func (t *Table) Adjacent(a, b Tag) bool {
	if a == b {
		return false
	}
	return t.adjacent[a][b]
}

// Resolve normalizes labels into a sorted, de-duplicated set of
// resolvable tags. Labels that map to Other are dropped.
func (t *Table) Resolve(labels []string) []Tag {
	seen := make(map[Tag]bool, len(labels))
	var tags []Tag
	for _, l := range labels {
		tag := t.Normalize(l)
		if tag == Other || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Tags lists the assignable tags in rule order.
func (t *Table) Tags() []Tag {
	seen := make(map[Tag]bool)
	var out []Tag
	for _, r := range t.rules {
		if !seen[r.Tag] {
			seen[r.Tag] = true
			out = append(out, r.Tag)
		}
	}
	return out
}

// Intersect returns the tags present in both sorted sets, sorted.
func Intersect(a, b []Tag) []Tag {
	in := make(map[Tag]bool, len(b))
	for _, t := range b {
		in[t] = true
	}
	var out []Tag
	for _, t := range a {
		if in[t] {
			out = append(out, t)
			delete(in, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
