package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/GautamJagannath/entrada/internal/forms"
)

const (
	pageMargin       = 54
	bodyFontSize     = 10
	bodyLineHeight   = 14
	headingFontSize  = 11
	titleFontSize    = 13
	blankPlaceholder = "____________________"
)

func (r *Renderer) newDocument(document forms.Document) *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetCompression(r.compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(r.clock().UTC())
	pdf.SetCreator("entrada", false)
	pdf.SetTitle(document.FormNumber+" "+document.ShortTitle, false)
	return pdf
}

// synthesize draws a conventional court caption followed by every field grouped by section.
func (r *Renderer) synthesize(ctx context.Context, request renderRequest) ([]byte, error) {
	document := request.document
	pdf := r.newDocument(document)
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	value := func(target string) string {
		return strings.TrimSpace(request.values[target])
	}
	orBlank := func(text string) string {
		if text == "" {
			return blankPlaceholder
		}
		return text
	}

	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 72)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-48)
		pdf.SetFont("Helvetica", "", 8)
		footer := document.FormNumber
		if document.Revision != "" {
			footer = fmt.Sprintf("%s [%s]", document.FormNumber, document.Revision)
		}
		pdf.CellFormat(0, 10, translate(footer), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()
	width, _ := pdf.GetPageSize()
	contentWidth := width - 2*pageMargin
	columnWidth := contentWidth / 2

	top := pdf.GetY()
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(columnWidth, 10, "ATTORNEY OR PARTY WITHOUT ATTORNEY:", "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", bodyFontSize)
	pdf.CellFormat(columnWidth, bodyLineHeight, translate(orBlank(value("attorney_name"))), "", 0, "L", false, 0, "")

	pdf.SetXY(pageMargin+columnWidth, top)
	pdf.SetFont("Helvetica", "B", bodyFontSize)
	pdf.CellFormat(columnWidth, bodyLineHeight, translate(orBlank(value("court_name"))), "", 2, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", bodyFontSize)
	pdf.CellFormat(columnWidth, bodyLineHeight, translate("COUNTY OF "+orBlank(value("county"))), "", 2, "R", false, 0, "")

	pdf.SetXY(pageMargin, top+48)
	pdf.SetFont("Helvetica", "B", titleFontSize)
	pdf.MultiCell(contentWidth, 16, translate(document.Title), "TB", "C", false)
	pdf.SetFont("Helvetica", "", bodyFontSize)
	pdf.CellFormat(columnWidth, bodyLineHeight, translate(document.FormNumber), "", 0, "L", false, 0, "")
	pdf.CellFormat(columnWidth, bodyLineHeight, translate("CASE NUMBER: "+orBlank(value("case_number"))), "", 1, "R", false, 0, "")
	pdf.Ln(bodyLineHeight)

	section := ""
	for _, field := range document.Fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if field.Section != "" && field.Section != section {
			section = field.Section
			pdf.Ln(bodyLineHeight / 2)
			pdf.SetFont("Helvetica", "B", headingFontSize)
			pdf.CellFormat(contentWidth, bodyLineHeight+2, translate(section), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", bodyFontSize)
		}
		line := fmt.Sprintf("%s: %s", field.DisplayLabel(), orBlank(value(field.Target)))
		pdf.SetX(pageMargin + 16)
		pdf.MultiCell(contentWidth-16, bodyLineHeight, translate(line), "", "L", false)
	}

	pdf.Ln(2 * bodyLineHeight)
	pdf.CellFormat(columnWidth, bodyLineHeight, "Date: "+blankPlaceholder, "", 0, "L", false, 0, "")
	pdf.CellFormat(columnWidth, bodyLineHeight, "Signature: "+blankPlaceholder, "", 1, "R", false, 0, "")

	return outputDocument(pdf)
}
