package service

import (
	"fmt"
	"regexp"
	"strings"

	"socialcrm/internal/models"
)

// TemplateService handles message template rendering
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

var placeholderRe = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// Render renders a template with contact data.
// Replaces {field_name} placeholders with actual contact values.
// Missing fields render as empty strings; unknown placeholders are kept.
func (s *TemplateService) Render(template string, contact *models.Contact) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	if contact == nil {
		return "", fmt.Errorf("contact cannot be nil")
	}

	rendered := template

	replace := func(placeholder string, value *string) {
		if value != nil && *value != "" {
			rendered = strings.ReplaceAll(rendered, placeholder, *value)
		} else {
			rendered = strings.ReplaceAll(rendered, placeholder, "")
		}
	}

	replace("{first_name}", contact.FirstName)
	replace("{last_name}", contact.LastName)

	fullName := contact.FullName()
	rendered = strings.ReplaceAll(rendered, "{full_name}", fullName)

	return rendered, nil
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if template == "" {
		return fmt.Errorf("template cannot be empty")
	}

	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")

	if openCount != closeCount {
		return fmt.Errorf("template has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// GetPlaceholders extracts all placeholders from a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	return placeholderRe.FindAllString(template, -1)
}
