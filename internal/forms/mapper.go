package forms

import (
	"errors"
	"strings"

	"github.com/GautamJagannath/entrada/internal/cases"
)

const (
	DefaultState  = "CA"
	DefaultCounty = "LOS ANGELES"
)

var errMissingCatalog = errors.New("forms: catalog is required")

type MapperConfig struct {
	Catalog       *Catalog
	DefaultState  string
	DefaultCounty string
}

// Mapper translates case answers into each document's field vocabulary.
type Mapper struct {
	catalog       *Catalog
	defaultState  string
	defaultCounty string
}

func NewMapper(cfg MapperConfig) (*Mapper, error) {
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	state := strings.TrimSpace(cfg.DefaultState)
	if state == "" {
		state = DefaultState
	}
	county := strings.TrimSpace(cfg.DefaultCounty)
	if county == "" {
		county = DefaultCounty
	}
	return &Mapper{
		catalog:       cfg.Catalog,
		defaultState:  state,
		defaultCounty: strings.ToUpper(county),
	}, nil
}

// Catalog exposes the field tables the mapper reads.
func (m *Mapper) Catalog() *Catalog {
	return m.catalog
}

// MapFields returns target field name to display value for one document type.
// Unknown types produce an empty map and absent answers produce defaults.
func (m *Mapper) MapFields(docType DocumentType, data cases.FormData) map[string]string {
	fields := m.catalog.Fields(docType)
	mapped := make(map[string]string, len(fields))
	for _, field := range fields {
		mapped[field.Target] = m.resolve(field, data)
	}
	return mapped
}

func (m *Mapper) resolve(field Field, data cases.FormData) string {
	switch field.Derive {
	case DeriveConstant:
		return field.Default
	case DeriveAddress:
		return m.address(field, data)
	case DeriveYesNo:
		value := lookup(field, data)
		if !value.IsFilled() && field.Default != "" {
			return field.Default
		}
		return yesNo(value)
	case DeriveState:
		if text := lookupText(field, data); text != "" {
			return text
		}
		return m.defaultState
	case DeriveCounty:
		if text := lookupText(field, data); text != "" {
			return strings.ToUpper(text)
		}
		return m.defaultCounty
	default:
		if text := lookupText(field, data); text != "" {
			return text
		}
		return field.Default
	}
}

func (m *Mapper) address(field Field, data cases.FormData) string {
	street := displayOf(data.Get(field.Sources[0]))
	city := displayOf(data.Get(field.Sources[1]))
	state := displayOf(data.Get(field.Sources[2]))
	zip := displayOf(data.Get(field.Sources[3]))
	if street == "" && city == "" && zip == "" {
		return field.Default
	}
	if state == "" {
		state = m.defaultState
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{street, city, strings.TrimSpace(state + " " + zip)} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func lookup(field Field, data cases.FormData) cases.Value {
	if value := data.Get(field.Source); value.IsFilled() {
		return value
	}
	for _, alternate := range field.Alternates {
		if value := data.Get(alternate); value.IsFilled() {
			return value
		}
	}
	return cases.NullValue()
}

func lookupText(field Field, data cases.FormData) string {
	return displayOf(lookup(field, data))
}

func displayOf(value cases.Value) string {
	if !value.IsFilled() {
		return ""
	}
	return strings.TrimSpace(value.Display())
}

func yesNo(value cases.Value) string {
	if flag, ok := value.Bool(); ok {
		if flag {
			return "Yes"
		}
		return "No"
	}
	if number, ok := value.Number(); ok {
		if number == 1 {
			return "Yes"
		}
		return "No"
	}
	if text, ok := value.Text(); ok {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "yes", "y", "1", "true":
			return "Yes"
		}
	}
	return "No"
}
