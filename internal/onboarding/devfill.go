package onboarding

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"gopkg.in/yaml.v3"
)

// DefaultPreset is used when a dev-fill request names no preset.
const DefaultPreset = "plumber"

//go:embed presets.yaml
var presetsYAML []byte

type presetFile struct {
	Presets map[string]preset `yaml:"presets"`
}

type preset struct {
	BasicInfo struct {
		Name            string `yaml:"name"`
		Phone           string `yaml:"phone"`
		Email           string `yaml:"email"`
		TradePrimary    string `yaml:"trade_primary"`
		YearsExperience int    `yaml:"years_experience"`
	} `yaml:"basic_info"`
	BusinessDetails struct {
		BusinessName      string `yaml:"business_name"`
		ABN               string `yaml:"abn"`
		LicenseNumber     string `yaml:"license_number"`
		LicenseExpiry     string `yaml:"license_expiry"`
		InsuranceProvider string `yaml:"insurance_provider"`
		InsuranceExpiry   string `yaml:"insurance_expiry"`
	} `yaml:"business_details"`
	ServiceArea struct {
		AreaType             string   `yaml:"area_type"`
		ServicePostcodes     []string `yaml:"service_postcodes"`
		ServiceRadiusKm      float64  `yaml:"service_radius_km"`
		ServiceCenterAddress string   `yaml:"service_center_address"`
	} `yaml:"service_area"`
	// SMSTemplates is "default" for the starter set, or empty for none.
	SMSTemplates string `yaml:"sms_templates"`
}

var (
	presetsOnce sync.Once
	presets     map[string]preset
	presetsErr  error
)

func loadPresets() (map[string]preset, error) {
	presetsOnce.Do(func() {
		var f presetFile
		if err := yaml.Unmarshal(presetsYAML, &f); err != nil {
			presetsErr = fmt.Errorf("parse dev-fill presets: %w", err)
			return
		}
		presets = f.Presets
	})
	return presets, presetsErr
}

// Presets returns the available preset names, sorted.
func Presets() []string {
	ps, err := loadPresets()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupPreset(name string) (preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	ps, err := loadPresets()
	if err != nil {
		return preset{}, err
	}
	p, ok := ps[name]
	if !ok {
		return preset{}, &domain.ErrNotFound{Resource: "preset", ID: name}
	}
	return p, nil
}

// MockSection returns the preset's data for the section edited on step.
// Steps without a section return nil, nil.
func MockSection(step domain.StepID, presetName string) (domain.SectionData, error) {
	p, err := lookupPreset(presetName)
	if err != nil {
		return nil, err
	}

	switch step {
	case domain.StepBasicInfo:
		b := p.BasicInfo
		return domain.BasicInfo{
			Name:            domain.Ptr(b.Name),
			Phone:           domain.Ptr(b.Phone),
			Email:           domain.Ptr(b.Email),
			TradePrimary:    domain.Ptr(b.TradePrimary),
			YearsExperience: domain.Ptr(b.YearsExperience),
		}, nil
	case domain.StepBusinessDetails:
		b := p.BusinessDetails
		return domain.BusinessDetails{
			BusinessName:      optional(b.BusinessName),
			ABN:               optional(b.ABN),
			LicenseNumber:     optional(b.LicenseNumber),
			LicenseExpiry:     optional(b.LicenseExpiry),
			InsuranceProvider: optional(b.InsuranceProvider),
			InsuranceExpiry:   optional(b.InsuranceExpiry),
		}, nil
	case domain.StepServiceArea:
		a := p.ServiceArea
		area := domain.ServiceArea{AreaType: optional(a.AreaType)}
		if a.AreaType == domain.AreaTypeRadius {
			area.ServicePostcodes = []string{}
			area.ServiceRadiusKm = domain.Ptr(a.ServiceRadiusKm)
			area.ServiceCenterAddress = optional(a.ServiceCenterAddress)
		} else {
			area.ServicePostcodes = append([]string{}, a.ServicePostcodes...)
		}
		return area, nil
	case domain.StepSMSTemplates:
		if p.SMSTemplates != "default" {
			return domain.SMSTemplates{}, nil
		}
		return DefaultTemplates(p.BusinessDetails.BusinessName), nil
	}
	return nil, nil
}

// MockFormData fills every section from a preset.
func MockFormData(presetName string) (domain.FormData, error) {
	var fd domain.FormData
	for _, step := range []domain.StepID{domain.StepBasicInfo, domain.StepBusinessDetails, domain.StepServiceArea, domain.StepSMSTemplates} {
		sec, err := MockSection(step, presetName)
		if err != nil {
			return domain.FormData{}, err
		}
		fd = fd.Merge(sec)
	}
	return fd, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
