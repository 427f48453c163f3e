// Package forms holds the per-court-form field tables and maps case answers onto them.
package forms

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DocumentType identifies one of the court forms produced for a case.
type DocumentType string

const (
	GC210   DocumentType = "GC-210"
	GC220   DocumentType = "GC-220"
	GC210CA DocumentType = "GC-210CA"
	FL105   DocumentType = "FL-105"
	GC020   DocumentType = "GC-020"
)

func (t DocumentType) String() string {
	return string(t)
}

// Derivation selects how a target value is computed from the answers.
type Derivation string

const (
	DeriveCopy     Derivation = "copy"
	DeriveAddress  Derivation = "address"
	DeriveYesNo    Derivation = "yes_no"
	DeriveList     Derivation = "list"
	DeriveConstant Derivation = "constant"
	DeriveState    Derivation = "state"
	DeriveCounty   Derivation = "county"
)

var (
	// ErrInvalidCatalog indicates a field table that cannot be used for mapping.
	ErrInvalidCatalog = errors.New("forms: invalid catalog")

	//go:embed catalog.yaml
	defaultCatalogYAML []byte
)

// Position places a value on a template page, in points from the top-left corner.
type Position struct {
	Page int     `yaml:"page"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
}

// Field is one row of a document's field table.
type Field struct {
	Target     string     `yaml:"target"`
	Source     string     `yaml:"source"`
	Alternates []string   `yaml:"alternates"`
	Sources    []string   `yaml:"sources"`
	Derive     Derivation `yaml:"derive"`
	Default    string     `yaml:"default"`
	Label      string     `yaml:"label"`
	Section    string     `yaml:"section"`
	PDFField   string     `yaml:"pdf_field"`
	Position   *Position  `yaml:"position"`
}

// TemplateField is the name of the fillable region that receives this value.
func (f Field) TemplateField() string {
	if f.PDFField != "" {
		return f.PDFField
	}
	return f.Target
}

// DisplayLabel falls back to the target name when no label is configured.
func (f Field) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Target
}

// Document describes one court form.
type Document struct {
	Type       DocumentType `yaml:"type"`
	FormNumber string       `yaml:"form_number"`
	Title      string       `yaml:"title"`
	ShortTitle string       `yaml:"short_title"`
	Revision   string       `yaml:"revision"`
	Fields     []Field      `yaml:"fields"`
}

type catalogFile struct {
	Header    []Field    `yaml:"header"`
	Documents []Document `yaml:"documents"`
}

// Catalog is the ordered set of documents and their field tables.
type Catalog struct {
	header    []Field
	documents []Document
	byType    map[DocumentType]int
}

// DefaultCatalog returns the built-in California guardianship catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(file.Documents) == 0 {
		return nil, fmt.Errorf("%w: no documents", ErrInvalidCatalog)
	}

	for index := range file.Header {
		if err := normalizeField(&file.Header[index]); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrInvalidCatalog, err)
		}
	}

	catalog := &Catalog{
		header:    file.Header,
		documents: file.Documents,
		byType:    make(map[DocumentType]int, len(file.Documents)),
	}
	for index := range catalog.documents {
		document := &catalog.documents[index]
		document.Type = DocumentType(strings.TrimSpace(string(document.Type)))
		if document.Type == "" {
			return nil, fmt.Errorf("%w: document %d has no type", ErrInvalidCatalog, index)
		}
		if _, exists := catalog.byType[document.Type]; exists {
			return nil, fmt.Errorf("%w: duplicate document %s", ErrInvalidCatalog, document.Type)
		}
		if document.FormNumber == "" {
			document.FormNumber = string(document.Type)
		}
		for fieldIndex := range document.Fields {
			if err := normalizeField(&document.Fields[fieldIndex]); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, document.Type, err)
			}
		}
		catalog.byType[document.Type] = index
	}
	return catalog, nil
}

func normalizeField(field *Field) error {
	field.Target = strings.TrimSpace(field.Target)
	if field.Target == "" {
		return errors.New("field without target")
	}
	if field.Derive == "" {
		field.Derive = DeriveCopy
	}
	switch field.Derive {
	case DeriveCopy, DeriveYesNo, DeriveList, DeriveState, DeriveCounty:
		if field.Source == "" {
			field.Source = field.Target
		}
	case DeriveConstant:
	case DeriveAddress:
		if len(field.Sources) != 4 {
			return fmt.Errorf("address field %s needs street, city, state and zip sources", field.Target)
		}
	default:
		return fmt.Errorf("field %s has unknown derivation %q", field.Target, field.Derive)
	}
	if field.Position != nil && field.Position.Page <= 0 {
		field.Position.Page = 1
	}
	return nil
}

// Types lists the document types in catalog order.
func (c *Catalog) Types() []DocumentType {
	types := make([]DocumentType, 0, len(c.documents))
	for _, document := range c.documents {
		types = append(types, document.Type)
	}
	return types
}

// Document returns the definition for a document type.
func (c *Catalog) Document(docType DocumentType) (Document, bool) {
	index, ok := c.byType[docType]
	if !ok {
		return Document{}, false
	}
	return c.documents[index], true
}

// Fields returns the shared header fields followed by the document's own fields.
func (c *Catalog) Fields(docType DocumentType) []Field {
	document, ok := c.Document(docType)
	if !ok {
		return nil
	}
	fields := make([]Field, 0, len(c.header)+len(document.Fields))
	fields = append(fields, c.header...)
	fields = append(fields, document.Fields...)
	return fields
}

// Header returns the fields shared by every document.
func (c *Catalog) Header() []Field {
	return append([]Field(nil), c.header...)
}
