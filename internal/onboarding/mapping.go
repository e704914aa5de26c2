package onboarding

import (
	"strings"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/google/uuid"
)

// ResolveAreaMode decides which service-area branch is authoritative.
// An explicit area_type wins; otherwise a non-empty postcode set wins over a
// radius. Returns "" when neither branch carries data.
func ResolveAreaMode(area domain.ServiceArea) string {
	if area.AreaType != nil {
		switch *area.AreaType {
		case domain.AreaTypePostcodes, domain.AreaTypeRadius:
			return *area.AreaType
		}
	}
	if len(area.ServicePostcodes) > 0 {
		return domain.AreaTypePostcodes
	}
	if area.ServiceRadiusKm != nil || area.ServiceCenterAddress != nil && *area.ServiceCenterAddress != "" {
		return domain.AreaTypeRadius
	}
	return ""
}

// BuildProfileUpdate flattens the three persisted sections into a partial
// profile update. Undefined fields are left out so existing column values
// survive. Blank dates and the inactive service-area branch are written as NULL.
func BuildProfileUpdate(fd domain.FormData, step domain.StepID, completed bool) map[string]any {
	u := make(map[string]any, 20)

	b := fd.BasicInfo
	putString(u, "full_name", b.Name)
	putString(u, "phone", b.Phone)
	putString(u, "email", b.Email)
	putString(u, "trade_primary", b.TradePrimary)
	if b.YearsExperience != nil {
		u["years_experience"] = *b.YearsExperience
	}

	d := fd.BusinessDetails
	putString(u, "business_name", d.BusinessName)
	putString(u, "abn", d.ABN)
	putString(u, "license_number", d.LicenseNumber)
	putDate(u, "license_expiry", d.LicenseExpiry)
	putString(u, "insurance_provider", d.InsuranceProvider)
	putDate(u, "insurance_expiry", d.InsuranceExpiry)

	a := fd.ServiceArea
	switch ResolveAreaMode(a) {
	case domain.AreaTypePostcodes:
		u["service_area_type"] = domain.AreaTypePostcodes
		u["service_postcodes"] = append([]string{}, a.ServicePostcodes...)
		u["service_radius_km"] = nil
		u["service_center_address"] = nil
	case domain.AreaTypeRadius:
		u["service_area_type"] = domain.AreaTypeRadius
		u["service_postcodes"] = nil
		if a.ServiceRadiusKm != nil {
			u["service_radius_km"] = *a.ServiceRadiusKm
		}
		putString(u, "service_center_address", a.ServiceCenterAddress)
	}

	u["onboarding_step"] = int(ClampStep(step))
	u["onboarding_completed"] = completed
	u["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return u
}

func putString(u map[string]any, key string, v *string) {
	if v != nil {
		u[key] = *v
	}
}

// putDate writes a date column; "" becomes NULL since the column is typed.
func putDate(u map[string]any, key string, v *string) {
	switch {
	case v == nil:
	case strings.TrimSpace(*v) == "":
		u[key] = nil
	default:
		u[key] = *v
	}
}

// ProfileToSections maps a profile row back onto the persisted sections.
// Text columns fall back to "" so the form renders controlled inputs; the
// step falls back to welcome.
func ProfileToSections(p *domain.Profile) (domain.BasicInfo, domain.BusinessDetails, domain.ServiceArea, domain.StepID) {
	basic := domain.BasicInfo{
		Name:            orEmpty(p.FullName),
		Phone:           orEmpty(p.Phone),
		Email:           orEmpty(p.Email),
		TradePrimary:    orEmpty(p.TradePrimary),
		YearsExperience: p.YearsExperience,
	}

	business := domain.BusinessDetails{
		BusinessName:      orEmpty(p.BusinessName),
		ABN:               orEmpty(p.ABN),
		LicenseNumber:     orEmpty(p.LicenseNumber),
		LicenseExpiry:     orEmpty(p.LicenseExpiry),
		InsuranceProvider: orEmpty(p.InsuranceProvider),
		InsuranceExpiry:   orEmpty(p.InsuranceExpiry),
	}

	area := domain.ServiceArea{
		ServiceRadiusKm:      p.ServiceRadiusKm,
		ServiceCenterAddress: orEmpty(p.ServiceCenterAddress),
	}
	if p.ServiceAreaType != nil {
		area.AreaType = domain.Ptr(*p.ServiceAreaType)
	}
	if p.ServicePostcodes != nil {
		area.ServicePostcodes = append([]string{}, p.ServicePostcodes...)
	}

	step := domain.StepWelcome
	if p.OnboardingStep != nil {
		step = domain.StepID(*p.OnboardingStep)
	}
	return basic, business, area, step
}

func orEmpty(v *string) *string {
	if v == nil {
		return domain.Ptr("")
	}
	return domain.Ptr(*v)
}

// TemplatesToRows builds fresh active rows for a destructive replace.
func TemplatesToRows(userID string, ts domain.SMSTemplates, now time.Time) []domain.SMSTemplateRow {
	rows := make([]domain.SMSTemplateRow, 0, len(ts))
	for i, t := range ts {
		vars := t.Variables
		if vars == nil {
			vars = ExtractVariables(t.Content)
		}
		rows = append(rows, domain.SMSTemplateRow{
			ID:           uuid.NewString(),
			UserID:       userID,
			TemplateType: t.TemplateType,
			Content:      t.Content,
			Variables:    append([]string{}, vars...),
			IsActive:     true,
			// keep insertion order stable for the created_at ordering on load
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return rows
}

// RowsToTemplates keeps active rows only, in the order given.
func RowsToTemplates(rows []domain.SMSTemplateRow) domain.SMSTemplates {
	out := make(domain.SMSTemplates, 0, len(rows))
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		out = append(out, domain.SMSTemplate{
			TemplateType: r.TemplateType,
			Content:      r.Content,
			Variables:    append([]string{}, r.Variables...),
		})
	}
	return out
}
