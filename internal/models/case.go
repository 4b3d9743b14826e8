package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category partitions case records. The set is fixed.
type Category string

const (
	CategoryExpenses    Category = "مصاريف"
	CategoryAid         Category = "مساعدات"
	CategorySponsorship Category = "كفالات"
)

var allCategories = []Category{
	CategoryExpenses,
	CategoryAid,
	CategorySponsorship,
}

var validCategories = map[Category]struct{}{
	CategoryExpenses:    {},
	CategoryAid:         {},
	CategorySponsorship: {},
}

// Categories returns the fixed categories in display order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func IsValidCategory(category Category) bool {
	_, ok := validCategories[category]
	return ok
}

func ParseCategory(raw string) (Category, error) {
	value := Category(strings.TrimSpace(raw))
	if value == "" {
		return "", fmt.Errorf("category is required")
	}
	if !IsValidCategory(value) {
		return "", fmt.Errorf("invalid category: %s", value)
	}
	return value, nil
}

// CaseRecord is one welfare-case intake entry.
type CaseRecord struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Date      time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	ApplicantName string  `json:"applicantName,omitempty"`
	NationalID    string  `json:"nationalId,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Address       string  `json:"address,omitempty"`
	FamilySize    int     `json:"familySize,omitempty"`
	MonthlyIncome float64 `json:"monthlyIncome,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Status        string  `json:"status,omitempty"`
	Notes         string  `json:"notes,omitempty"`

	// Fields holds form fields without a named slot above.
	Fields map[string]string `json:"fields,omitempty"`

	Attachments []AttachmentMetadata `json:"attachments"`
}

// Named field keys accepted by FieldValue.
const (
	FieldID            = "id"
	FieldCategory      = "category"
	FieldApplicantName = "applicantName"
	FieldNationalID    = "nationalId"
	FieldPhone         = "phone"
	FieldAddress       = "address"
	FieldFamilySize    = "familySize"
	FieldMonthlyIncome = "monthlyIncome"
	FieldAmount        = "amount"
	FieldStatus        = "status"
	FieldNotes         = "notes"
)

// FieldValue returns the string form of a named or free-form field.
func (c CaseRecord) FieldValue(name string) (string, bool) {
	switch name {
	case FieldID:
		return c.ID, true
	case FieldCategory:
		return string(c.Category), true
	case FieldApplicantName:
		return c.ApplicantName, true
	case FieldNationalID:
		return c.NationalID, true
	case FieldPhone:
		return c.Phone, true
	case FieldAddress:
		return c.Address, true
	case FieldFamilySize:
		return strconv.Itoa(c.FamilySize), true
	case FieldMonthlyIncome:
		return strconv.FormatFloat(c.MonthlyIncome, 'f', -1, 64), true
	case FieldAmount:
		return strconv.FormatFloat(c.Amount, 'f', -1, 64), true
	case FieldStatus:
		return c.Status, true
	case FieldNotes:
		return c.Notes, true
	}
	v, ok := c.Fields[name]
	return v, ok
}

// SearchableText returns every text-bearing value of the record.
func (c CaseRecord) SearchableText() []string {
	out := []string{c.ID, c.ApplicantName, c.NationalID, c.Phone, c.Address, c.Status, c.Notes}
	for _, v := range c.Fields {
		out = append(out, v)
	}
	return out
}

// Clone returns a deep copy.
func (c CaseRecord) Clone() CaseRecord {
	out := c
	if c.Fields != nil {
		out.Fields = make(map[string]string, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	if c.Attachments != nil {
		out.Attachments = make([]AttachmentMetadata, len(c.Attachments))
		copy(out.Attachments, c.Attachments)
	}
	return out
}

// Normalize trims text fields and drops empty free-form entries.
func (c *CaseRecord) Normalize() {
	c.ID = strings.TrimSpace(c.ID)
	c.Category = Category(strings.TrimSpace(string(c.Category)))
	c.ApplicantName = strings.TrimSpace(c.ApplicantName)
	c.NationalID = strings.TrimSpace(c.NationalID)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	c.Status = strings.TrimSpace(c.Status)
	c.Notes = strings.TrimSpace(c.Notes)
	for k, v := range c.Fields {
		v = strings.TrimSpace(v)
		if strings.TrimSpace(k) == "" || v == "" {
			delete(c.Fields, k)
			continue
		}
		c.Fields[k] = v
	}
	if c.Attachments == nil {
		c.Attachments = []AttachmentMetadata{}
	}
}

// Validate checks the record against the stored schema.
func (c CaseRecord) Validate() error {
	if c.Category == "" {
		return fmt.Errorf("category is required")
	}
	if !IsValidCategory(c.Category) {
		return fmt.Errorf("invalid category: %s", c.Category)
	}
	if c.FamilySize < 0 {
		return fmt.Errorf("familySize must not be negative")
	}
	if c.MonthlyIncome < 0 || c.Amount < 0 {
		return fmt.Errorf("amounts must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Attachments))
	for _, a := range c.Attachments {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("duplicate attachment id: %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// DataKeys returns the blob keys referenced by the record.
func (c CaseRecord) DataKeys() []string {
	out := make([]string, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		out = append(out, a.DataKey)
	}
	return out
}
