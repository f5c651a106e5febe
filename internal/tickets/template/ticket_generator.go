// Package template renders printable PDF tickets.
package template

import (
	"bytes"
	"fmt"
	"image/png"

	"ms-seatsale/internal/tickets/admission"

	"github.com/signintech/gopdf"
	"golang.org/x/image/font/gofont/goregular"
)

const fontFamily = "goregular"

// TicketPDFGenerator lays out one A4 page per ticket: title, seat details
// and the admission QR code.
type TicketPDFGenerator struct {
	Title string
}

func NewTicketPDFGenerator(title string) *TicketPDFGenerator {
	return &TicketPDFGenerator{Title: title}
}

// Generate renders the ticket. qrCode is the PNG produced by the admission
// QR generator and may be empty.
func (g *TicketPDFGenerator) Generate(p admission.Payload, qrCode []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFontData(fontFamily, goregular.TTF); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont(fontFamily, "", 20); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	pdf.SetXY(40, 40)
	if err := pdf.Cell(nil, g.Title); err != nil {
		return nil, fmt.Errorf("failed to write title: %w", err)
	}

	if err := pdf.SetFont(fontFamily, "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}
	pdf.SetXY(40, 90)
	for _, line := range ticketLines(p) {
		pdf.SetX(40)
		if err := pdf.Cell(nil, line); err != nil {
			return nil, fmt.Errorf("failed to write ticket info: %w", err)
		}
		pdf.Br(22)
	}

	if len(qrCode) > 0 {
		img, err := png.Decode(bytes.NewReader(qrCode))
		if err != nil {
			return nil, fmt.Errorf("failed to decode QR code: %w", err)
		}
		if err := pdf.ImageFrom(img, 40, pdf.GetY()+20, &gopdf.Rect{W: 200, H: 200}); err != nil {
			return nil, fmt.Errorf("failed to draw QR code: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func ticketLines(p admission.Payload) []string {
	lines := []string{
		fmt.Sprintf("Ticket: %s", p.QRTicketID),
		fmt.Sprintf("Seat: %s", p.Seat),
	}
	if p.Area != "" {
		lines = append(lines, fmt.Sprintf("Area: %s", p.Area))
	}
	if !p.EventDate.IsZero() {
		lines = append(lines, fmt.Sprintf("Date: %s", p.EventDate.Format("2006-01-02")))
	}
	return lines
}
