package models

import "strings"

// Fallback renderings for profile fields that are not known.
const (
	UnknownValue = "Unknown"
	NoneValue    = "None"
)

// CallerProfile holds the descriptive fields used to personalize a sales call.
// A nil *CallerProfile means no profile is available; an empty field means that
// particular detail is unknown.
type CallerProfile struct {
	Name              string `json:"name,omitempty"`
	LastVisitDate     string `json:"last_visit_date,omitempty"`
	ProductsViewed    string `json:"products_viewed,omitempty"`
	PreviousPurchases string `json:"previous_purchases,omitempty"`
	Interests         string `json:"interests,omitempty"`
	AgeGroup          string `json:"age_group,omitempty"`
	DeviceUsage       string `json:"device_usage,omitempty"`
}

// ValueOr returns value, or fallback when value is blank.
func ValueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Known reports whether a profile field carries a value.
func Known(value string) bool {
	return strings.TrimSpace(value) != ""
}

// IsEmpty reports whether every field of the profile is unknown.
func (p *CallerProfile) IsEmpty() bool {
	if p == nil {
		return true
	}
	return !Known(p.Name) && !Known(p.LastVisitDate) && !Known(p.ProductsViewed) &&
		!Known(p.PreviousPurchases) && !Known(p.Interests) && !Known(p.AgeGroup) && !Known(p.DeviceUsage)
}

// Clone returns a copy of the profile; nil stays nil.
func (p *CallerProfile) Clone() *CallerProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Prospect is one entry of an outbound dialing list.
type Prospect struct {
	Phone    string         `json:"phone"`
	UserInfo *CallerProfile `json:"user_info,omitempty"`
}
