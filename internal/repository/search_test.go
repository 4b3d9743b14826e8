package repository

import (
	"testing"

	"casekeeper/internal/models"
)

func TestNormalizeSearch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Fatima   ALI ", "fatima ali"},
		{"أحمد", "احمد"},
		{"إيمان", "ايمان"},
		{"مكتبة", "مكتبه"},
		{"مصطفى", "مصطفي"},
		{"مُحَمَّد", "محمد"},
		{"عـــلي", "علي"},
		{"٠٥٥١٢٣", "055123"},
		{"Café", "cafe"},
	}
	for _, tt := range tests {
		if got := NormalizeSearch(tt.in); got != tt.want {
			t.Errorf("NormalizeSearch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchText(t *testing.T) {
	rec := models.CaseRecord{
		ID:            "250101-1",
		ApplicantName: "محمد الأمين",
		Fields:        map[string]string{"school": "Al-Noor"},
	}
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"الامين", true},
		{"noor", true},
		{"250101", true},
		{"خالد", false},
	}
	for _, tt := range tests {
		if got := MatchText(tt.query)(rec); got != tt.want {
			t.Errorf("MatchText(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestMatchField(t *testing.T) {
	rec := models.CaseRecord{ID: "250101-7", FamilySize: 4, Fields: map[string]string{"qr": "X1"}}
	if !MatchField(models.FieldID, " 250101-7 ")(rec) {
		t.Fatalf("expected id match")
	}
	if !MatchField(models.FieldFamilySize, "4")(rec) {
		t.Fatalf("expected numeric field match")
	}
	if !MatchField("qr", "X1")(rec) {
		t.Fatalf("expected free-form field match")
	}
	if MatchField("missing", "")(rec) {
		t.Fatalf("absent field must not match")
	}
}
