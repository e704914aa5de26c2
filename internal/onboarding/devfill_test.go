package onboarding

import (
	"errors"
	"testing"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"electrician", "plumber"}, Presets())
}

func TestMockFormData_PassesValidation(t *testing.T) {
	for _, name := range Presets() {
		t.Run(name, func(t *testing.T) {
			fd, err := MockFormData(name)
			require.NoError(t, err)

			all := ValidateAllSteps(fd, domain.StepComplete)
			assert.True(t, all.Valid, "%+v", all.Steps)
			assert.NotEmpty(t, fd.SMSTemplates)
		})
	}
}

func TestMockSection_ModesAreExclusive(t *testing.T) {
	sec, err := MockSection(domain.StepServiceArea, "electrician")
	require.NoError(t, err)
	area := sec.(domain.ServiceArea)
	assert.Equal(t, domain.AreaTypeRadius, *area.AreaType)
	assert.Empty(t, area.ServicePostcodes)
	assert.NotNil(t, area.ServiceRadiusKm)

	sec, err = MockSection(domain.StepServiceArea, "")
	require.NoError(t, err)
	area = sec.(domain.ServiceArea)
	assert.Equal(t, domain.AreaTypePostcodes, *area.AreaType)
	assert.Nil(t, area.ServiceRadiusKm)
}

func TestMockSection_StepWithoutSection(t *testing.T) {
	sec, err := MockSection(domain.StepReview, DefaultPreset)
	require.NoError(t, err)
	assert.Nil(t, sec)
}

func TestMockSection_UnknownPreset(t *testing.T) {
	_, err := MockSection(domain.StepBasicInfo, "astronaut")
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}
