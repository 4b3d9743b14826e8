package models

import "time"

const (
	DefaultIDDateLayout    = "060102"
	DefaultAutosaveSeconds = 30
	DefaultCurrency        = "SAR"
	DefaultDateFormat      = "2006-01-02"
)

// Settings is the host application's configuration document.
type Settings struct {
	OrganizationName string `json:"organizationName,omitempty" yaml:"organization_name"`
	Currency         string `json:"currency,omitempty" yaml:"currency"`
	DateFormat       string `json:"dateFormat,omitempty" yaml:"date_format"`
	IDPrefix         string `json:"idPrefix,omitempty" yaml:"id_prefix"`
	IDDateLayout     string `json:"idDateLayout,omitempty" yaml:"id_date_layout"`
	AutosaveSeconds  int    `json:"autosaveSeconds,omitempty" yaml:"autosave_seconds"`
}

// DefaultSettings returns settings used before any document is stored.
func DefaultSettings() Settings {
	return Settings{
		Currency:        DefaultCurrency,
		DateFormat:      DefaultDateFormat,
		IDDateLayout:    DefaultIDDateLayout,
		AutosaveSeconds: DefaultAutosaveSeconds,
	}
}

// WithDefaults fills unset fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.Currency == "" {
		s.Currency = d.Currency
	}
	if s.DateFormat == "" {
		s.DateFormat = d.DateFormat
	}
	if s.IDDateLayout == "" {
		s.IDDateLayout = d.IDDateLayout
	}
	if s.AutosaveSeconds <= 0 {
		s.AutosaveSeconds = d.AutosaveSeconds
	}
	return s
}

// AutosaveInterval returns the autosave period.
func (s Settings) AutosaveInterval() time.Duration {
	return time.Duration(s.WithDefaults().AutosaveSeconds) * time.Second
}
