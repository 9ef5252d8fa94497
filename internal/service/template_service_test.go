package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialcrm/internal/models"
)

func TestRender_AllPlaceholders(t *testing.T) {
	svc := NewTemplateService()
	contact := &models.Contact{
		FirstName: strPtr("Amina"),
		LastName:  strPtr("Otieno"),
	}

	result, err := svc.Render("Hi {first_name} {last_name}, a.k.a. {full_name}!", contact)
	require.NoError(t, err)

	assert.Equal(t, "Hi Amina Otieno, a.k.a. Amina Otieno!", result)
}

func TestRender_MissingFieldsRenderEmpty(t *testing.T) {
	svc := NewTemplateService()
	contact := &models.Contact{FirstName: strPtr("Amina")}

	result, err := svc.Render("Hi {first_name} {last_name}!", contact)
	require.NoError(t, err)

	assert.Equal(t, "Hi Amina !", result)
}

func TestRender_EmptyTemplateRejected(t *testing.T) {
	svc := NewTemplateService()

	_, err := svc.Render("", &models.Contact{})
	assert.Error(t, err)
}

func TestValidateTemplate(t *testing.T) {
	svc := NewTemplateService()

	assert.NoError(t, svc.ValidateTemplate("Hi {first_name}!"))
	assert.NoError(t, svc.ValidateTemplate("No placeholders at all"))
	assert.Error(t, svc.ValidateTemplate(""))
	assert.Error(t, svc.ValidateTemplate("Hi {first_name"))
	assert.Error(t, svc.ValidateTemplate("Hi first_name}"))
}

func TestGetPlaceholders(t *testing.T) {
	svc := NewTemplateService()

	placeholders := svc.GetPlaceholders("Hi {first_name}, {full_name} and {unknown_field}")
	assert.Equal(t, []string{"{first_name}", "{full_name}", "{unknown_field}"}, placeholders)
}
