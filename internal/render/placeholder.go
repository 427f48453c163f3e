package render

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	placeholderLinesPerPage = 46
	placeholderLineWidth    = 95
	placeholderFontSize     = 10
	placeholderLeading      = 14
	placeholderTop          = 738
	placeholderLeft         = 54
)

// placeholder hand-assembles a plain PDF so the last rung shares no failure mode with the PDF libraries.
func (r *Renderer) placeholder(_ context.Context, request renderRequest) ([]byte, error) {
	lines := []string{
		fmt.Sprintf("%s - %s", request.document.Type, request.document.Title),
		"Court template missing or could not be rendered.",
		"The answers collected for this form are listed below.",
		"",
	}

	labels := make(map[string]string, len(request.fields))
	order := make([]string, 0, len(request.fields))
	for _, field := range request.fields {
		if _, seen := labels[field.Target]; !seen {
			order = append(order, field.Target)
		}
		labels[field.Target] = field.DisplayLabel()
	}
	extra := make([]string, 0)
	for target := range request.values {
		if _, known := labels[target]; !known {
			extra = append(extra, target)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	for _, target := range order {
		value := strings.TrimSpace(request.values[target])
		if value == "" {
			continue
		}
		label := labels[target]
		if label == "" {
			label = target
		}
		lines = append(lines, wrapLine(label+": "+value, placeholderLineWidth)...)
	}
	return buildPlainPDF(lines), nil
}

func wrapLine(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var wrapped []string
	current := ""
	for _, word := range words {
		for len(word) > width {
			if current != "" {
				wrapped = append(wrapped, current)
				current = ""
			}
			wrapped = append(wrapped, word[:width])
			word = word[width:]
		}
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			wrapped = append(wrapped, current)
			current = word
		}
	}
	if current != "" {
		wrapped = append(wrapped, current)
	}
	return wrapped
}

// buildPlainPDF writes a PDF 1.4 file with one Helvetica text block per page.
func buildPlainPDF(lines []string) []byte {
	if len(lines) == 0 {
		lines = []string{""}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += placeholderLinesPerPage {
		end := start + placeholderLinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}

	// Objects: 1 catalog, 2 page tree, 3 font, then a page and a content stream per page.
	objectCount := 3 + 2*len(pages)
	offsets := make([]int, objectCount+1)
	var buffer bytes.Buffer
	buffer.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	writeObject := func(number int, body string) {
		offsets[number] = buffer.Len()
		fmt.Fprintf(&buffer, "%d 0 obj\n%s\nendobj\n", number, body)
	}

	kids := make([]string, 0, len(pages))
	for index := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*index))
	}
	writeObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObject(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObject(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for index, pageLines := range pages {
		pageNumber := 4 + 2*index
		contentNumber := pageNumber + 1
		writeObject(pageNumber, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNumber))

		var content bytes.Buffer
		fmt.Fprintf(&content, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n", placeholderFontSize, placeholderLeading, placeholderLeft, placeholderTop)
		for _, line := range pageLines {
			fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
		}
		content.WriteString("ET")
		writeObject(contentNumber, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
	}

	xrefOffset := buffer.Len()
	fmt.Fprintf(&buffer, "xref\n0 %d\n", objectCount+1)
	buffer.WriteString("0000000000 65535 f \n")
	for number := 1; number <= objectCount; number++ {
		fmt.Fprintf(&buffer, "%010d 00000 n \n", offsets[number])
	}
	fmt.Fprintf(&buffer, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objectCount+1, xrefOffset)
	return buffer.Bytes()
}

// escapePDFText escapes string delimiters, writes Latin-1 letters as WinAnsi octal codes
// and maps every other non-ASCII rune to '?'.
func escapePDFText(text string) string {
	var builder strings.Builder
	for _, character := range text {
		switch {
		case character == '(' || character == ')' || character == '\\':
			builder.WriteByte('\\')
			builder.WriteRune(character)
		case character >= 0xa0 && character <= 0xff:
			fmt.Fprintf(&builder, "\\%03o", character)
		case character < 0x20 || character > 0x7e:
			builder.WriteByte('?')
		default:
			builder.WriteRune(character)
		}
	}
	return builder.String()
}
