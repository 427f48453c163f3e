package cases

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status enumerates the lifecycle stages of a case.
type Status string

const (
	// StatusDraft is the initial state of every case.
	StatusDraft Status = "draft"
	// StatusReady marks a case whose questionnaire is complete.
	StatusReady Status = "ready"
	// StatusGenerated marks a case with a successful document generation pass.
	StatusGenerated Status = "generated"
)

const (
	maxIdentifierLength = 190
	minorNameField      = "minor_name"
	// MaxMinorNameLength is the width, in characters, of the minor_name column.
	MaxMinorNameLength  = 320
)

var (
	// ErrCaseNotFound indicates that no case exists for the identifier.
	ErrCaseNotFound = errors.New("cases: case not found")
	// ErrInvalidCaseID indicates that a case identifier is empty or exceeds storage bounds.
	ErrInvalidCaseID = errors.New("cases: invalid case id")
	// ErrInvalidOwner indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwner = errors.New("cases: invalid owner")
	// ErrInvalidStatus indicates an unknown lifecycle status.
	ErrInvalidStatus = errors.New("cases: invalid status")
	// ErrVersionConflict indicates that the case changed after it was read.
	ErrVersionConflict = errors.New("cases: version conflict")
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusDraft:
		return StatusDraft, nil
	case StatusReady:
		return StatusReady, nil
	case StatusGenerated:
		return StatusGenerated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// ValidateCaseID trims and bounds-checks a case identifier.
func ValidateCaseID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCaseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCaseID, maxIdentifierLength)
	}
	return trimmed, nil
}

func validateOwner(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwner)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwner, maxIdentifierLength)
	}
	return trimmed, nil
}

// Case is one guardianship intake record.
type Case struct {
	ID                   string    `gorm:"column:case_id;primaryKey;size:190;not null"`
	Owner                string    `gorm:"column:owner;size:190;not null;index:idx_cases_owner_updated,priority:1"`
	Status               Status    `gorm:"column:status;size:16;not null"`
	FormData             FormData  `gorm:"column:form_data;type:text;not null"`
	CompletionPercentage int       `gorm:"column:completion_percentage;not null"`
	MinorName            string    `gorm:"column:minor_name;size:320;not null"`
	Version              int64     `gorm:"column:version;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_cases_owner_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Case) TableName() string {
	return "cases"
}

// HasData reports whether at least one field of the case is answered.
func (c Case) HasData() bool {
	for _, value := range c.FormData {
		if value.IsFilled() {
			return true
		}
	}
	return false
}

// Progress is the payload of a single auto-save write.
type Progress struct {
	FormData             FormData
	CompletionPercentage int
	UpdatedAt            time.Time
}

// MinorNameOf mirrors the minor's name out of the form data, cut to
// MaxMinorNameLength characters.
func MinorNameOf(data FormData) string {
	value := data.Get(minorNameField)
	if !value.IsFilled() {
		return ""
	}
	name := strings.TrimSpace(value.Display())
	if utf8.RuneCountInString(name) <= MaxMinorNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxMinorNameLength]))
}

// NextStatus applies the completion-driven promotion from draft to ready.
func NextStatus(current Status, completion int) Status {
	if current == StatusDraft && completion >= 100 {
		return StatusReady
	}
	return current
}
