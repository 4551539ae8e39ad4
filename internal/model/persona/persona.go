package persona

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Persona captures a role-playing profile. SystemPrompt stays server-side.
type Persona struct {
	ID           string `json:"id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	Subtitle     string `json:"subtitle" yaml:"subtitle"`
	SystemPrompt string `json:"-" yaml:"-"`
}

// Profile is the public display identity exposed to the frontend.
type Profile struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// Profile strips the private instruction text.
func (p Persona) Profile() Profile {
	return Profile{ID: p.ID, Title: p.Title, Subtitle: p.Subtitle}
}

type catalogEntry struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Subtitle  string `yaml:"subtitle"`
	Character string `yaml:"character"`
}

type catalog struct {
	Conduct  string         `yaml:"conduct"`
	Personas []catalogEntry `yaml:"personas"`
}

// Seed provides the fixed persona catalog shipped with this deployment.
func Seed() []Persona {
	items, err := parseCatalog(catalogYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded catalog: %v", err))
	}
	return items
}

func parseCatalog(raw []byte) ([]Persona, error) {
	var doc catalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	conduct := strings.TrimSpace(doc.Conduct)
	seen := make(map[string]struct{}, len(doc.Personas))
	items := make([]Persona, 0, len(doc.Personas))
	for _, entry := range doc.Personas {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("persona without id")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", id)
		}
		seen[id] = struct{}{}

		character := strings.TrimSpace(entry.Character)
		if character == "" {
			return nil, fmt.Errorf("persona %q has no character text", id)
		}

		items = append(items, Persona{
			ID:           id,
			Title:        strings.TrimSpace(entry.Title),
			Subtitle:     strings.TrimSpace(entry.Subtitle),
			SystemPrompt: buildSystemPrompt(character, conduct),
		})
	}
	return items, nil
}

// buildSystemPrompt appends the shared conduct rules to a persona's character text.
func buildSystemPrompt(character, conduct string) string {
	if conduct == "" {
		return character
	}
	return character + "\n\nConduct:\n" + conduct
}
