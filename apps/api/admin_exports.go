package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
)

const (
	exportSheetName  = "Sheet1"
	pdfUTF8FontAlias = "report"
)

var exportColumns = []string{"ID", "Дата", "Статус", "Категория", "Адрес", "Автор", "Широта", "Долгота", "Описание", "Фото"}

func (a *App) adminExportPDFHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	reports := ws.AllReports()
	generatedAt := a.clock.Now()

	data, err := buildReportsPDF(reports, "Safe City Map: обращения", generatedAt, a.cfg.PDFFontPath)
	if err != nil {
		a.log.Error("failed to build pdf export", "err", err)
		writeAPIError(c, err)
		return
	}
	filename := fmt.Sprintf("safecity-reports-%s.pdf", generatedAt.Format("20060102-1504"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

func (a *App) adminExportXLSXHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	reports := ws.AllReports()
	generatedAt := a.clock.Now()

	data, err := buildReportsXLSX(reports)
	if err != nil {
		a.log.Error("failed to build xlsx export", "err", err)
		writeAPIError(c, err)
		return
	}
	filename := fmt.Sprintf("safecity-reports-%s.xlsx", generatedAt.Format("20060102-1504"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// buildReportsPDF renders a moderation summary. Core PDF fonts have no
// Cyrillic glyphs, so without fontPath text is transliterated.
func buildReportsPDF(reports []Report, title string, generatedAt time.Time, fontPath string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	family := "Helvetica"
	text := transliterate
	if fontPath != "" {
		pdf.AddUTF8Font(pdfUTF8FontAlias, "", fontPath)
		pdf.AddUTF8Font(pdfUTF8FontAlias, "B", fontPath)
		family = pdfUTF8FontAlias
		text = func(s string) string { return s }
	}
	pdf.AddPage()
	pdf.SetFont(family, "", 16)
	pdf.Cell(0, 10, text(title))
	pdf.Ln(12)

	pdf.SetFont(family, "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", generatedAt.Format("02.01.2006 15:04")))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Total reports: %d", len(reports)))
	pdf.Ln(10)

	stats := computeDashboardStats(reports)
	pdf.SetFont(family, "B", 11)
	pdf.Cell(0, 8, "Status distribution")
	pdf.Ln(8)
	pdf.SetFont(family, "", 10)
	for _, line := range []struct {
		status Status
		count  int
	}{
		{StatusPending, stats.Pending},
		{StatusAccepted, stats.InProgress},
		{StatusResolved, stats.Resolved},
	} {
		pdf.Cell(0, 6, fmt.Sprintf("- %s: %d", line.status.Code(), line.count))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont(family, "B", 11)
	pdf.Cell(0, 8, "Categories")
	pdf.Ln(8)
	pdf.SetFont(family, "", 10)
	for _, stat := range stats.CategoryStats {
		pdf.Cell(0, 6, fmt.Sprintf("- %s: %d", stat.Code, stat.Count))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont(family, "B", 11)
	pdf.Cell(0, 8, "Reports")
	pdf.Ln(8)
	pdf.SetFont(family, "", 9)
	for _, report := range reports {
		line := fmt.Sprintf("#%d  %s  [%s/%s]  %s", report.ID, report.Date, report.Category.Code(), report.Status.Code(), text(report.Title))
		pdf.MultiCell(0, 5, line, "", "L", false)
		pdf.MultiCell(0, 5, text(report.Description), "", "L", false)
		pdf.Ln(2)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func buildReportsXLSX(reports []Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(exportColumns))
	for i, column := range exportColumns {
		header[i] = column
	}
	if err := f.SetSheetRow(exportSheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	for i, report := range reports {
		image := ""
		if report.Image != nil {
			image = *report.Image
		}
		row := []any{
			report.ID,
			report.Date,
			string(report.Status),
			string(report.Category),
			report.Title,
			report.Author,
			report.Coords.Lat(),
			report.Coords.Lng(),
			report.Description,
			image,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", report.ID, err)
		}
	}
	if err := f.SetColWidth(exportSheetName, "E", "E", 36); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(exportSheetName, "I", "I", 60); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := unicode.ToLower(r)
		latin, ok := cyrillicToLatin[lower]
		if !ok {
			if r < 128 {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
			continue
		}
		if lower != r && latin != "" {
			latin = strings.ToUpper(latin[:1]) + latin[1:]
		}
		b.WriteString(latin)
	}
	return b.String()
}
