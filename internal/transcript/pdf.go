package transcript

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// WritePDF renders a minimal printable transcript. Layout is intentionally
// simple: role headings, body paragraphs, monospaced fenced code, one line
// per attachment.
func WritePDF(t *Transcript, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	title := t.Metadata.Title
	if strings.TrimSpace(title) == "" {
		title = "Conversation"
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Captured %s from %s", t.Metadata.ExtractedAt, t.Metadata.URL), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, m := range t.Messages {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, roleLabel(m.Role), "", 1, "L", false, 0, "")
		if m.Thinking != "" {
			pdf.SetFont("Helvetica", "I", 9)
			writeBody(pdf, m.Thinking, 9)
			pdf.Ln(2)
		}
		pdf.SetFont("Helvetica", "", 11)
		writeBody(pdf, m.Content, 11)
		for _, a := range m.Attachments {
			pdf.SetFont("Helvetica", "I", 9)
			if a.Error != "" {
				pdf.CellFormat(0, 5, fmt.Sprintf("[image unavailable: %s]", a.Error), "", 1, "L", false, 0, "")
			} else {
				pdf.CellFormat(0, 5, fmt.Sprintf("[image: %s]", a.Filename), "", 1, "L", false, 0, "")
			}
		}
		pdf.Ln(3)
	}
	return pdf.OutputFileAndClose(outPath)
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	default:
		return role
	}
}

// writeBody renders line by line, switching to a monospaced face inside
// fenced code regions.
func writeBody(pdf *gofpdf.Fpdf, text string, size float64) {
	inFence := false
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			if inFence {
				pdf.SetFont("Courier", "", 9)
			} else {
				pdf.SetFont("Helvetica", "", size)
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			pdf.Ln(3)
			continue
		}
		if inFence {
			pdf.MultiCell(0, 4.5, line, "", "L", false)
			continue
		}
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
}
