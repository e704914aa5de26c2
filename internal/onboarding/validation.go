package onboarding

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// phoneRegion is the default region for numbers entered without a country code.
const phoneRegion = "AU"

const maxTemplateLength = 480

// ============================================================
// Schemas — one per data step
// ============================================================

type basicInfoSchema struct {
	Name            string `json:"name" validate:"required,min=2,max=100"`
	Phone           string `json:"phone" validate:"required,au_phone"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	TradePrimary    string `json:"trade_primary" validate:"required,trade"`
	YearsExperience *int   `json:"years_experience" validate:"required,min=0,max=70"`
}

type businessDetailsSchema struct {
	BusinessName      string `json:"business_name" validate:"required,min=2,max=120"`
	ABN               string `json:"abn" validate:"omitempty,abn"`
	LicenseNumber     string `json:"license_number" validate:"omitempty,max=50"`
	LicenseExpiry     string `json:"license_expiry" validate:"omitempty,isodate"`
	InsuranceProvider string `json:"insurance_provider" validate:"omitempty,max=100"`
	InsuranceExpiry   string `json:"insurance_expiry" validate:"omitempty,isodate"`
}

type serviceAreaSchema struct {
	AreaType             string   `json:"area_type" validate:"omitempty,oneof=postcodes radius"`
	ServicePostcodes     []string `json:"service_postcodes" validate:"omitempty,max=200,unique,dive,len=4,numeric"`
	ServiceRadiusKm      *float64 `json:"service_radius_km" validate:"omitempty,min=1,max=500"`
	ServiceCenterAddress string   `json:"service_center_address" validate:"omitempty,max=255"`
}

type smsTemplatesSchema struct {
	Templates []templateSchema `json:"templates" validate:"max=10,unique=TemplateType,dive"`
}

type templateSchema struct {
	TemplateType string   `json:"template_type" validate:"required,template_type"`
	Content      string   `json:"content" validate:"required,max=480"`
	Variables    []string `json:"variables" validate:"dive,template_var"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	must(v.RegisterValidation("au_phone", func(fl validator.FieldLevel) bool {
		_, ok := NormalizePhone(fl.Field().String())
		return ok
	}))
	must(v.RegisterValidation("trade", func(fl validator.FieldLevel) bool {
		return slices.Contains(domain.TradeCodes, fl.Field().String())
	}))
	must(v.RegisterValidation("abn", func(fl validator.FieldLevel) bool {
		return ValidABN(fl.Field().String())
	}))
	must(v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	}))
	must(v.RegisterValidation("template_type", func(fl validator.FieldLevel) bool {
		return slices.Contains(domain.TemplateTypes, fl.Field().String())
	}))
	must(v.RegisterValidation("template_var", func(fl validator.FieldLevel) bool {
		return slices.Contains(domain.TemplateVariables, fl.Field().String())
	}))

	v.RegisterStructValidation(validateServiceArea, serviceAreaSchema{})
	v.RegisterStructValidation(validateTemplate, templateSchema{})

	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func validateServiceArea(sl validator.StructLevel) {
	s := sl.Current().Interface().(serviceAreaSchema)
	area := domain.ServiceArea{
		ServicePostcodes:     s.ServicePostcodes,
		ServiceRadiusKm:      s.ServiceRadiusKm,
		ServiceCenterAddress: &s.ServiceCenterAddress,
	}
	if s.AreaType != "" {
		area.AreaType = &s.AreaType
	}

	switch ResolveAreaMode(area) {
	case domain.AreaTypePostcodes:
		if len(s.ServicePostcodes) == 0 {
			sl.ReportError(s.ServicePostcodes, "service_postcodes", "ServicePostcodes", "area_postcodes", "")
		}
	case domain.AreaTypeRadius:
		if s.ServiceRadiusKm == nil {
			sl.ReportError(s.ServiceRadiusKm, "service_radius_km", "ServiceRadiusKm", "required", "")
		}
		if strings.TrimSpace(s.ServiceCenterAddress) == "" {
			sl.ReportError(s.ServiceCenterAddress, "service_center_address", "ServiceCenterAddress", "area_center", "")
		}
	default:
		sl.ReportError(s.ServicePostcodes, "service_postcodes", "ServicePostcodes", "area_required", "")
	}
}

func validateTemplate(sl validator.StructLevel) {
	t := sl.Current().Interface().(templateSchema)
	used := ExtractVariables(t.Content)
	for _, v := range t.Variables {
		if !slices.Contains(used, v) {
			sl.ReportError(t.Variables, "variables", "Variables", "var_unused", v)
			return
		}
	}
}

// ============================================================
// Step validation
// ============================================================

// Result is the outcome of validating one step. Errors are ordered; the first
// one is the primary violation.
type Result struct {
	Success bool
	Errors  []string
}

// Message returns the primary violation, or "" on success.
func (r Result) Message() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// ValidateStep runs the schema of stepID against its section of form.
// Steps without a section always pass.
func ValidateStep(stepID domain.StepID, form domain.FormData) Result {
	schema := schemaFor(stepID, form)
	if schema == nil {
		return Result{Success: true}
	}

	err := validate.Struct(schema)
	if err == nil {
		return Result{Success: true}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Result{Success: false, Errors: []string{err.Error()}}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return Result{Success: false, Errors: msgs}
}

// BuildStepValidation validates a step and packages the verdict for the state.
func BuildStepValidation(stepID domain.StepID, form domain.FormData) domain.StepValidation {
	r := ValidateStep(stepID, form)
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return domain.StepValidation{StepID: stepID, IsValid: r.Success, Errors: errs}
}

// ValidateAllSteps validates steps 0 through upToStep inclusive.
func ValidateAllSteps(form domain.FormData, upToStep domain.StepID) domain.AllStepsValidation {
	upToStep = ClampStep(upToStep)
	out := domain.AllStepsValidation{Valid: true, Steps: make([]domain.StepValidation, 0, int(upToStep)+1)}
	for step := domain.StepWelcome; step <= upToStep; step++ {
		v := BuildStepValidation(step, form)
		if !v.IsValid {
			out.Valid = false
			out.ErrorCount += len(v.Errors)
		}
		out.Steps = append(out.Steps, v)
	}
	return out
}

func schemaFor(stepID domain.StepID, form domain.FormData) any {
	switch stepID {
	case domain.StepBasicInfo:
		b := form.BasicInfo
		return basicInfoSchema{
			Name:            strings.TrimSpace(deref(b.Name)),
			Phone:           strings.TrimSpace(deref(b.Phone)),
			Email:           strings.TrimSpace(deref(b.Email)),
			TradePrimary:    deref(b.TradePrimary),
			YearsExperience: b.YearsExperience,
		}
	case domain.StepBusinessDetails:
		b := form.BusinessDetails
		return businessDetailsSchema{
			BusinessName:      strings.TrimSpace(deref(b.BusinessName)),
			ABN:               deref(b.ABN),
			LicenseNumber:     deref(b.LicenseNumber),
			LicenseExpiry:     deref(b.LicenseExpiry),
			InsuranceProvider: deref(b.InsuranceProvider),
			InsuranceExpiry:   deref(b.InsuranceExpiry),
		}
	case domain.StepServiceArea:
		a := form.ServiceArea
		return serviceAreaSchema{
			AreaType:             deref(a.AreaType),
			ServicePostcodes:     a.ServicePostcodes,
			ServiceRadiusKm:      a.ServiceRadiusKm,
			ServiceCenterAddress: deref(a.ServiceCenterAddress),
		}
	case domain.StepSMSTemplates:
		ts := make([]templateSchema, 0, len(form.SMSTemplates))
		for _, t := range form.SMSTemplates {
			ts = append(ts, templateSchema{TemplateType: t.TemplateType, Content: t.Content, Variables: t.Variables})
		}
		return smsTemplatesSchema{Templates: ts}
	}
	return nil
}

// formatFieldError renders "field: reason"; the field path drops the schema type name.
func formatFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	reason := describe(fe)
	if path == "" {
		return reason
	}
	return fmt.Sprintf("%s: %s", path, reason)
}

func describe(fe validator.FieldError) string {
	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Array:
		unit = " items"
	}

	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	case "len":
		return fmt.Sprintf("must be exactly %s%s", fe.Param(), unit)
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "unique":
		return "must not contain duplicates"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "email":
		return "must be a valid email address"
	case "au_phone":
		return "must be a valid Australian phone number"
	case "trade":
		return "must be a known trade"
	case "abn":
		return "must be a valid 11-digit ABN"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "template_type":
		return "must be a known template type"
	case "template_var":
		return "must be a known template variable"
	case "var_unused":
		return fmt.Sprintf("declares {%s} but the content does not use it", fe.Param())
	case "area_required":
		return "provide service postcodes or a service radius"
	case "area_postcodes":
		return "add at least one postcode"
	case "area_center":
		return "is required for a radius service area"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// ============================================================
// Field rules shared with mapping and dev tooling
// ============================================================

// NormalizePhone parses an Australian (or international) number and returns it in E.164.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

var abnWeights = [11]int{10, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19}

// ValidABN checks an Australian Business Number: 11 digits (spaces allowed)
// whose weighted sum, after subtracting 1 from the first digit, is divisible by 89.
func ValidABN(raw string) bool {
	digits := make([]int, 0, 11)
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			continue
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		default:
			return false
		}
	}
	if len(digits) != 11 {
		return false
	}
	digits[0]--
	sum := 0
	for i, d := range digits {
		sum += d * abnWeights[i]
	}
	return sum%89 == 0
}

// ============================================================
// Required-field policy
// ============================================================

// RequiredFields lists, per step, the fields the wizard asks for before a step
// counts as filled in. Step 3 needs either field, not both.
func RequiredFields(step domain.StepID) []string {
	switch step {
	case domain.StepBasicInfo:
		return []string{"name", "phone", "email", "trade_primary", "years_experience"}
	case domain.StepBusinessDetails:
		return []string{"business_name", "abn"}
	case domain.StepServiceArea:
		return []string{"service_postcodes", "service_radius_km"}
	}
	return nil
}

// MissingRequiredFields returns the required fields of step that are still empty.
func MissingRequiredFields(step domain.StepID, form domain.FormData) []string {
	var missing []string
	switch step {
	case domain.StepBasicInfo:
		b := form.BasicInfo
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"name", strings.TrimSpace(deref(b.Name)) != ""},
			{"phone", strings.TrimSpace(deref(b.Phone)) != ""},
			{"email", strings.TrimSpace(deref(b.Email)) != ""},
			{"trade_primary", deref(b.TradePrimary) != ""},
			{"years_experience", b.YearsExperience != nil},
		} {
			if !f.ok {
				missing = append(missing, f.name)
			}
		}
	case domain.StepBusinessDetails:
		b := form.BusinessDetails
		if strings.TrimSpace(deref(b.BusinessName)) == "" {
			missing = append(missing, "business_name")
		}
		if strings.TrimSpace(deref(b.ABN)) == "" {
			missing = append(missing, "abn")
		}
	case domain.StepServiceArea:
		a := form.ServiceArea
		if len(a.ServicePostcodes) == 0 && (a.ServiceRadiusKm == nil || *a.ServiceRadiusKm <= 0) {
			missing = append(missing, "service_postcodes", "service_radius_km")
		}
	}
	return missing
}

// CanSkipStep reports whether the wizard may move past step given its recorded
// validation. Welcome, templates, review and complete are always passable, and
// so is a step that has never been validated.
func CanSkipStep(step domain.StepID, validation *domain.StepValidation) bool {
	switch step {
	case domain.StepWelcome, domain.StepSMSTemplates, domain.StepReview, domain.StepComplete:
		return true
	}
	if validation == nil {
		return true
	}
	return validation.IsValid
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
