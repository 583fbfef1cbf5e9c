// Package catalog holds the immutable set of personas and topics a learner
// can practise with.
//
// The built-in catalog is embedded as YAML and validated at load time. An
// alternative catalog file can be supplied through configuration; it replaces
// the built-in set entirely. Once loaded, a Catalog is read-only and safe for
// concurrent use.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtin []byte

// Category groups topics on the selection screen.
type Category string

const (
	CategoryDaily        Category = "Daily"
	CategoryProfessional Category = "Professional"
	CategorySocialMedia  Category = "Social Media"
	CategoryAcademic     Category = "Academic"
	CategoryBooks        Category = "Books & Stories"
	CategoryFun          Category = "Fun"
	CategoryGame         Category = "Game"
)

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryDaily, CategoryProfessional, CategorySocialMedia, CategoryAcademic,
		CategoryBooks, CategoryFun, CategoryGame:
		return true
	}
	return false
}

// Persona is an AI conversation partner.
type Persona struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Avatar    string   `yaml:"avatar" json:"avatar,omitempty"`
	Traits    []string `yaml:"traits" json:"traits,omitempty"`
	VoiceName string   `yaml:"voice" json:"voice"`
	Color     string   `yaml:"color" json:"color,omitempty"`
	Directive string   `yaml:"directive" json:"directive"`
	MinLevel  int      `yaml:"min_level" json:"min_level"`
}

// IsUnlocked reports whether the persona is available at the given level.
func (p Persona) IsUnlocked(level int) bool { return IsUnlocked(p.MinLevel, level) }

// Topic is a conversation scenario.
type Topic struct {
	ID            string   `yaml:"id" json:"id"`
	Title         string   `yaml:"title" json:"title"`
	Category      Category `yaml:"category" json:"category"`
	Emoji         string   `yaml:"emoji" json:"emoji,omitempty"`
	Description   string   `yaml:"description" json:"description"`
	OpeningPrompt string   `yaml:"opening_prompt" json:"opening_prompt"`
	MinLevel      int      `yaml:"min_level" json:"min_level"`
}

// IsUnlocked reports whether the topic is available at the given level.
func (t Topic) IsUnlocked(level int) bool { return IsUnlocked(t.MinLevel, level) }

// IsUnlocked is the single unlock rule shared by personas and topics.
func IsUnlocked(minLevel, currentLevel int) bool {
	return currentLevel >= minLevel
}

// Catalog is the loaded, validated set of personas and topics.
type Catalog struct {
	personas []Persona
	topics   []Topic
	byPerson map[string]int
	byTopic  map[string]int
}

type document struct {
	Personas []Persona `yaml:"personas"`
	Topics   []Topic   `yaml:"topics"`
}

// Default returns the built-in catalog. It panics if the embedded data is
// invalid, which is a build defect.
func Default() *Catalog {
	c, err := Parse(bytes.NewReader(builtin))
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a YAML catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	c := &Catalog{
		personas: doc.Personas,
		topics:   doc.Topics,
		byPerson: make(map[string]int, len(doc.Personas)),
		byTopic:  make(map[string]int, len(doc.Topics)),
	}
	for i, p := range doc.Personas {
		c.byPerson[p.ID] = i
	}
	for i, t := range doc.Topics {
		c.byTopic[t.ID] = i
	}
	return c, nil
}

func validate(doc document) error {
	var errs []error
	if len(doc.Personas) == 0 {
		errs = append(errs, errors.New("catalog: at least one persona is required"))
	}
	if len(doc.Topics) == 0 {
		errs = append(errs, errors.New("catalog: at least one topic is required"))
	}

	seen := make(map[string]bool)
	for i, p := range doc.Personas {
		prefix := fmt.Sprintf("catalog: personas[%d]", i)
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("%s: id is required", prefix))
		case seen["p:"+p.ID]:
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", prefix, p.ID))
		}
		seen["p:"+p.ID] = true
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		}
		if p.VoiceName == "" {
			errs = append(errs, fmt.Errorf("%s: voice is required", prefix))
		}
		if p.MinLevel < 1 {
			errs = append(errs, fmt.Errorf("%s: min_level must be >= 1, got %d", prefix, p.MinLevel))
		}
	}
	for i, t := range doc.Topics {
		prefix := fmt.Sprintf("catalog: topics[%d]", i)
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("%s: id is required", prefix))
		case seen["t:"+t.ID]:
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", prefix, t.ID))
		}
		seen["t:"+t.ID] = true
		if t.Title == "" {
			errs = append(errs, fmt.Errorf("%s: title is required", prefix))
		}
		if !t.Category.IsValid() {
			errs = append(errs, fmt.Errorf("%s: unknown category %q", prefix, t.Category))
		}
		if t.OpeningPrompt == "" {
			errs = append(errs, fmt.Errorf("%s: opening_prompt is required", prefix))
		}
		if t.MinLevel < 1 {
			errs = append(errs, fmt.Errorf("%s: min_level must be >= 1, got %d", prefix, t.MinLevel))
		}
	}
	return errors.Join(errs...)
}

// ListPersonas returns a copy of all personas in catalog order.
func (c *Catalog) ListPersonas() []Persona {
	return clonePersonas(c.personas)
}

// ListTopics returns a copy of all topics in catalog order.
func (c *Catalog) ListTopics() []Topic {
	return slices.Clone(c.topics)
}

// Persona looks up a persona by id.
func (c *Catalog) Persona(id string) (Persona, bool) {
	i, ok := c.byPerson[id]
	if !ok {
		return Persona{}, false
	}
	p := c.personas[i]
	p.Traits = slices.Clone(p.Traits)
	return p, true
}

// Topic looks up a topic by id.
func (c *Catalog) Topic(id string) (Topic, bool) {
	i, ok := c.byTopic[id]
	if !ok {
		return Topic{}, false
	}
	return c.topics[i], true
}

// SortedTopics returns all topics with the ones unlocked at level first. The
// relative order within each group follows the catalog.
func (c *Catalog) SortedTopics(level int) []Topic {
	out := slices.Clone(c.topics)
	slices.SortStableFunc(out, func(a, b Topic) int {
		ua, ub := a.IsUnlocked(level), b.IsUnlocked(level)
		switch {
		case ua == ub:
			return 0
		case ua:
			return -1
		default:
			return 1
		}
	})
	return out
}

// TopicsByCategory groups topics by category, keeping catalog order.
func (c *Catalog) TopicsByCategory() map[Category][]Topic {
	out := make(map[Category][]Topic)
	for _, t := range c.topics {
		out[t.Category] = append(out[t.Category], t)
	}
	return out
}

func clonePersonas(in []Persona) []Persona {
	out := make([]Persona, len(in))
	for i, p := range in {
		p.Traits = slices.Clone(p.Traits)
		out[i] = p
	}
	return out
}
