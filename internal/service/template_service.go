package service

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"wacampaign/internal/models"
)

var (
	placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)
	// innermost {a|b|c} group; options may hold {placeholder} tokens
	spinPattern = regexp.MustCompile(`\{((?:[^{}]|\{[a-zA-Z_]+\})*\|(?:[^{}]|\{[a-zA-Z_]+\})*)\}`)
)

// TemplateService handles message template rendering
type TemplateService struct {
	intn func(n int) int
}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{intn: rand.Intn}
}

// Render expands spintax groups such as {Hi|Hello}, then substitutes {name}, {phone},
// {email}, {tag} and {notes} from the contact. Contact values are inserted verbatim.
// Unknown placeholders become empty strings.
func (s *TemplateService) Render(template string, contact *models.Contact) string {
	vars := map[string]string{}
	if contact != nil {
		vars = contact.Variables()
	}

	return placeholderPattern.ReplaceAllStringFunc(s.Spin(template), func(match string) string {
		name := strings.ToLower(match[1 : len(match)-1])
		return vars[name]
	})
}

// Spin expands spintax groups, innermost first, picking one option uniformly
func (s *TemplateService) Spin(text string) string {
	for {
		loc := spinPattern.FindStringSubmatchIndex(text)
		if loc == nil {
			return text
		}
		options := strings.Split(text[loc[2]:loc[3]], "|")
		chosen := options[s.intn(len(options))]
		text = text[:loc[0]] + chosen + text[loc[1]:]
	}
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template cannot be empty")
	}

	depth := 0
	for _, r := range template {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("template has an unmatched closing brace")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("template has %d unclosed braces", depth)
	}
	return nil
}

// GetPlaceholders extracts all placeholders from a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	return placeholderPattern.FindAllString(template, -1)
}
