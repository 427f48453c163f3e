package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/form"
)

const (
	overlayFontSize   = 9
	overlayLineHeight = 11
	overlayRightEdge  = 36
)

// fillPayload is the JSON document accepted by pdfcpu form filling.
type fillPayload struct {
	Forms []fillForm `json:"forms"`
}

type fillForm struct {
	TextFields []fillTextField `json:"textfield,omitempty"`
	CheckBoxes []fillCheckBox  `json:"checkbox,omitempty"`
}

type fillTextField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fillCheckBox struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

func (r *Renderer) fillTemplate(ctx context.Context, request renderRequest) ([]byte, error) {
	template, err := r.loadTemplate(request.document.Type)
	if err != nil {
		return nil, err
	}

	fields, err := api.FormFields(bytes.NewReader(template), newPDFConfig())
	if err != nil {
		return nil, fmt.Errorf("read form fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, errNoFillableFields
	}
	available := make(map[string]form.FieldType, len(fields))
	for _, field := range fields {
		available[field.Name] = field.Typ
	}

	filled := fillForm{}
	for _, field := range request.fields {
		value := request.values[field.Target]
		if value == "" {
			continue
		}
		name := field.TemplateField()
		fieldType, ok := available[name]
		if !ok {
			continue
		}
		switch fieldType {
		case form.FTCheckBox:
			filled.CheckBoxes = append(filled.CheckBoxes, fillCheckBox{Name: name, Value: value == "Yes"})
		case form.FTText:
			filled.TextFields = append(filled.TextFields, fillTextField{Name: name, Value: value})
		}
	}
	if len(filled.TextFields) == 0 && len(filled.CheckBoxes) == 0 {
		return nil, errNoMatchingFields
	}

	payload, err := json.Marshal(fillPayload{Forms: []fillForm{filled}})
	if err != nil {
		return nil, fmt.Errorf("encode form values: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var filledPDF bytes.Buffer
	if err := api.FillForm(bytes.NewReader(template), bytes.NewReader(payload), &filledPDF, newPDFConfig()); err != nil {
		return nil, fmt.Errorf("fill form: %w", err)
	}
	var locked bytes.Buffer
	if err := api.LockFormFields(bytes.NewReader(filledPDF.Bytes()), &locked, nil, newPDFConfig()); err != nil {
		return nil, fmt.Errorf("lock form fields: %w", err)
	}
	return locked.Bytes(), nil
}

// overlayTemplate stamps values onto imported template pages at table coordinates.
// Values without a position are skipped.
func (r *Renderer) overlayTemplate(ctx context.Context, request renderRequest) ([]byte, error) {
	template, err := r.loadTemplate(request.document.Type)
	if err != nil {
		return nil, err
	}
	pages, err := pageCount(template)
	if err != nil {
		return nil, err
	}

	pdf := r.newDocument(request.document)
	pdf.SetAutoPageBreak(false, 0)
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	importer := gofpdi.NewImporter()
	var source io.ReadSeeker = bytes.NewReader(template)

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		templateID := importer.ImportPageFromStream(pdf, &source, page, "/MediaBox")
		pdf.AddPage()
		width, height := pdf.GetPageSize()
		importer.UseImportedTemplate(pdf, templateID, 0, 0, width, height)

		pdf.SetFont("Helvetica", "", overlayFontSize)
		for _, field := range request.fields {
			if field.Position == nil || field.Position.Page != page {
				continue
			}
			value := strings.TrimSpace(request.values[field.Target])
			if value == "" {
				continue
			}
			pdf.SetXY(field.Position.X, field.Position.Y)
			pdf.MultiCell(width-field.Position.X-overlayRightEdge, overlayLineHeight, translate(value), "", "L", false)
		}
	}
	return outputDocument(pdf)
}

func outputDocument(pdf *fpdf.Fpdf) ([]byte, error) {
	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buffer.Bytes(), nil
}
