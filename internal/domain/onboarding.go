package domain

import (
	"fmt"
	"reflect"
	"time"
)

// ============================================================
// Steps
// ============================================================

// StepID identifies one screen of the onboarding wizard.
type StepID int

const (
	StepWelcome StepID = iota
	StepBasicInfo
	StepBusinessDetails
	StepServiceArea
	StepSMSTemplates
	StepReview
	StepComplete
)

// TotalSteps is the fixed number of wizard steps.
const TotalSteps = 7

// LastStep is the terminal step index.
const LastStep = StepComplete

// InRange reports whether the step is one of the seven wizard steps.
func (s StepID) InRange() bool {
	return s >= StepWelcome && s <= StepComplete
}

func (s StepID) String() string {
	switch s {
	case StepWelcome:
		return "welcome"
	case StepBasicInfo:
		return "basic_info"
	case StepBusinessDetails:
		return "business_details"
	case StepServiceArea:
		return "service_area"
	case StepSMSTemplates:
		return "sms_templates"
	case StepReview:
		return "review"
	case StepComplete:
		return "complete"
	}
	return fmt.Sprintf("step_%d", int(s))
}

// RequiredSteps must all be recorded valid before onboarding can complete.
// SMS templates are optional content and excluded.
var RequiredSteps = []StepID{StepBasicInfo, StepBusinessDetails, StepServiceArea}

// ============================================================
// Sections
// ============================================================

// Section names one of the four form-data sections.
type Section string

const (
	SectionBasicInfo       Section = "basicInfo"
	SectionBusinessDetails Section = "businessDetails"
	SectionServiceArea     Section = "serviceArea"
	SectionSMSTemplates    Section = "smsTemplates"
)

// ParseSection maps a path segment to a Section.
func ParseSection(s string) (Section, bool) {
	switch Section(s) {
	case SectionBasicInfo, SectionBusinessDetails, SectionServiceArea, SectionSMSTemplates:
		return Section(s), true
	}
	return "", false
}

// Step returns the wizard step that edits this section.
func (s Section) Step() StepID {
	switch s {
	case SectionBasicInfo:
		return StepBasicInfo
	case SectionBusinessDetails:
		return StepBusinessDetails
	case SectionServiceArea:
		return StepServiceArea
	case SectionSMSTemplates:
		return StepSMSTemplates
	}
	return StepWelcome
}

// BasicInfo is the tradie's personal details. Nil fields are undefined.
type BasicInfo struct {
	Name            *string `json:"name,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	Email           *string `json:"email,omitempty"`
	TradePrimary    *string `json:"trade_primary,omitempty"`
	YearsExperience *int    `json:"years_experience,omitempty"`
}

// BusinessDetails is the trading entity. ABN is the Australian tax id.
type BusinessDetails struct {
	BusinessName      *string `json:"business_name,omitempty"`
	ABN               *string `json:"abn,omitempty"`
	LicenseNumber     *string `json:"license_number,omitempty"`
	LicenseExpiry     *string `json:"license_expiry,omitempty"`
	InsuranceProvider *string `json:"insurance_provider,omitempty"`
	InsuranceExpiry   *string `json:"insurance_expiry,omitempty"`
}

// Service area modes.
const (
	AreaTypePostcodes = "postcodes"
	AreaTypeRadius    = "radius"
)

// ServiceArea is either a postcode set or a radius around a center address.
// A nil ServicePostcodes is undefined; an empty non-nil slice is an explicit empty set.
type ServiceArea struct {
	AreaType             *string  `json:"area_type,omitempty"`
	ServicePostcodes     []string `json:"service_postcodes,omitempty"`
	ServiceRadiusKm      *float64 `json:"service_radius_km,omitempty"`
	ServiceCenterAddress *string  `json:"service_center_address,omitempty"`
}

// SMSTemplate is one customer-facing message the tradie sends from the app.
type SMSTemplate struct {
	TemplateType string   `json:"template_type"`
	Content      string   `json:"content"`
	Variables    []string `json:"variables"`
}

// SMSTemplates is the ordered template list; it is always replaced wholesale.
type SMSTemplates []SMSTemplate

// FormData is the in-progress onboarding draft.
type FormData struct {
	BasicInfo       BasicInfo       `json:"basicInfo"`
	BusinessDetails BusinessDetails `json:"businessDetails"`
	ServiceArea     ServiceArea     `json:"serviceArea"`
	SMSTemplates    SMSTemplates    `json:"smsTemplates"`
}

// Clone returns a copy whose slices can be modified without touching the receiver.
// Pointer fields are shared; they are never written through.
func (f FormData) Clone() FormData {
	out := f
	if f.ServiceArea.ServicePostcodes != nil {
		out.ServiceArea.ServicePostcodes = append([]string{}, f.ServiceArea.ServicePostcodes...)
	}
	if f.SMSTemplates != nil {
		out.SMSTemplates = make(SMSTemplates, len(f.SMSTemplates))
		for i, t := range f.SMSTemplates {
			t.Variables = append([]string(nil), t.Variables...)
			out.SMSTemplates[i] = t
		}
	}
	return out
}

// ============================================================
// Section data — tagged union over the four section kinds
// ============================================================

// SectionData is implemented by exactly the four section types. Adding a section
// means implementing mergeInto, so every merge site is checked at compile time.
type SectionData interface {
	Section() Section
	mergeInto(fd *FormData)
}

func (BasicInfo) Section() Section       { return SectionBasicInfo }
func (BusinessDetails) Section() Section { return SectionBusinessDetails }
func (ServiceArea) Section() Section     { return SectionServiceArea }
func (SMSTemplates) Section() Section    { return SectionSMSTemplates }

func (p BasicInfo) mergeInto(fd *FormData) {
	dst := &fd.BasicInfo
	mergePtr(&dst.Name, p.Name)
	mergePtr(&dst.Phone, p.Phone)
	mergePtr(&dst.Email, p.Email)
	mergePtr(&dst.TradePrimary, p.TradePrimary)
	mergePtr(&dst.YearsExperience, p.YearsExperience)
}

func (p BusinessDetails) mergeInto(fd *FormData) {
	dst := &fd.BusinessDetails
	mergePtr(&dst.BusinessName, p.BusinessName)
	mergePtr(&dst.ABN, p.ABN)
	mergePtr(&dst.LicenseNumber, p.LicenseNumber)
	mergePtr(&dst.LicenseExpiry, p.LicenseExpiry)
	mergePtr(&dst.InsuranceProvider, p.InsuranceProvider)
	mergePtr(&dst.InsuranceExpiry, p.InsuranceExpiry)
}

func (p ServiceArea) mergeInto(fd *FormData) {
	dst := &fd.ServiceArea
	mergePtr(&dst.AreaType, p.AreaType)
	if p.ServicePostcodes != nil {
		dst.ServicePostcodes = append([]string{}, p.ServicePostcodes...)
	}
	mergePtr(&dst.ServiceRadiusKm, p.ServiceRadiusKm)
	mergePtr(&dst.ServiceCenterAddress, p.ServiceCenterAddress)
}

func (p SMSTemplates) mergeInto(fd *FormData) {
	fd.SMSTemplates = FormData{SMSTemplates: p}.Clone().SMSTemplates
	if fd.SMSTemplates == nil {
		fd.SMSTemplates = SMSTemplates{}
	}
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Merge returns a copy of fd with the section data shallow-merged in.
// Defined fields of the patch win; undefined fields keep their current value.
func (f FormData) Merge(patch SectionData) FormData {
	out := f.Clone()
	if patch != nil {
		patch.mergeInto(&out)
	}
	return out
}

// SectionFor returns the current data of the section edited on a step, or nil
// for steps without a section (welcome, review, complete).
func (f FormData) SectionFor(step StepID) SectionData {
	switch step {
	case StepBasicInfo:
		return f.BasicInfo
	case StepBusinessDetails:
		return f.BusinessDetails
	case StepServiceArea:
		return f.ServiceArea
	case StepSMSTemplates:
		return f.SMSTemplates
	}
	return nil
}

// SectionChanged reports whether the section edited on step differs between prev and next.
func SectionChanged(step StepID, prev, next FormData) bool {
	return !reflect.DeepEqual(prev.SectionFor(step), next.SectionFor(step))
}

// ============================================================
// Validation and state
// ============================================================

// StepValidation is the recorded verdict for one step.
type StepValidation struct {
	StepID  StepID   `json:"stepId"`
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// OnboardingState is the session-scoped aggregate the reducer operates on.
type OnboardingState struct {
	CurrentStep    StepID                    `json:"currentStep"`
	FormData       FormData                  `json:"formData"`
	StepValidation map[StepID]StepValidation `json:"stepValidation"`
	IsLoading      bool                      `json:"isLoading"`
	Error          *string                   `json:"error"`
	UserID         *string                   `json:"userId"`
}

// Draft is the cached working copy of a session, keyed by user.
type Draft struct {
	UserID      string    `json:"userId"`
	CurrentStep StepID    `json:"currentStep"`
	FormData    FormData  `json:"formData"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ============================================================
// Persistence rows
// ============================================================

// Profile is the durable per-user row in the profiles table.
type Profile struct {
	ID                   string   `json:"id"`
	FullName             *string  `json:"full_name"`
	Phone                *string  `json:"phone"`
	Email                *string  `json:"email"`
	TradePrimary         *string  `json:"trade_primary"`
	YearsExperience      *int     `json:"years_experience"`
	BusinessName         *string  `json:"business_name"`
	ABN                  *string  `json:"abn"`
	LicenseNumber        *string  `json:"license_number"`
	LicenseExpiry        *string  `json:"license_expiry"`
	InsuranceProvider    *string  `json:"insurance_provider"`
	InsuranceExpiry      *string  `json:"insurance_expiry"`
	ServiceAreaType      *string  `json:"service_area_type"`
	ServicePostcodes     []string `json:"service_postcodes"`
	ServiceRadiusKm      *float64 `json:"service_radius_km"`
	ServiceCenterAddress *string  `json:"service_center_address"`
	OnboardingStep       *int     `json:"onboarding_step"`
	OnboardingCompleted  bool     `json:"onboarding_completed"`
}

// SMSTemplateRow is one row of the sms_templates table.
type SMSTemplateRow struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TemplateType string    `json:"template_type"`
	Content      string    `json:"content"`
	Variables    []string  `json:"variables"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// OnboardingCompletedEvent is published once a user finishes onboarding.
type OnboardingCompletedEvent struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	BusinessName string    `json:"business_name,omitempty"`
	TradePrimary string    `json:"trade_primary,omitempty"`
	Templates    int       `json:"templates"`
	CompletedAt  time.Time `json:"completed_at"`
}

// ============================================================
// Reference data
// ============================================================

// TradeCodes are the accepted primary trade codes.
var TradeCodes = []string{
	"plumber", "electrician", "carpenter", "builder", "painter", "tiler",
	"roofer", "landscaper", "plasterer", "hvac", "locksmith", "handyman",
	"concreter", "bricklayer", "glazier", "fencer", "other",
}

// SMS template types.
const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplateOnTheWay            = "on_the_way"
	TemplateJobComplete         = "job_complete"
	TemplateQuoteFollowUp       = "quote_follow_up"
	TemplatePaymentReminder     = "payment_reminder"
	TemplateReviewRequest       = "review_request"
)

// TemplateTypes lists the accepted template types in display order.
var TemplateTypes = []string{
	TemplateBookingConfirmation,
	TemplateOnTheWay,
	TemplateJobComplete,
	TemplateQuoteFollowUp,
	TemplatePaymentReminder,
	TemplateReviewRequest,
}

// TemplateVariables are the placeholders a template may reference as {name}.
var TemplateVariables = []string{
	"customer_name", "business_name", "tradie_name", "job_date", "job_time",
	"quote_amount", "invoice_amount", "review_link", "phone",
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
