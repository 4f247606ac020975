package copywriter

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/cwygoda/scouter/internal/domain"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the system prompt and the user prompt template.
type Prompts struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	user *template.Template
}

// ParsePrompts decodes a prompts document.
func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
		return nil, fmt.Errorf("parse prompts: system and user are required")
	}
	tmpl, err := template.New("user").Option("missingkey=error").Parse(p.User)
	if err != nil {
		return nil, fmt.Errorf("parse user prompt: %w", err)
	}
	p.user = tmpl
	return &p, nil
}

// DefaultPrompts returns the embedded prompts.
func DefaultPrompts() *Prompts {
	p, err := ParsePrompts(defaultPrompts)
	if err != nil {
		panic(err)
	}
	return p
}

// UserPrompt renders the user prompt for in, truncating the site text.
func (p *Prompts) UserPrompt(in domain.CopyInput) (string, error) {
	in.TextContent = truncate(in.TextContent, maxContent)
	var b strings.Builder
	if err := p.user.Execute(&b, in); err != nil {
		return "", err
	}
	return b.String(), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
