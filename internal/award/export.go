package award

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"sourceline/internal/domain"
)

const rankingSheet = "Ranking"

// WritePacketPDF renders the sample PO packet of a stored decision.
func WritePacketPDF(w io.Writer, productName string, d domain.AwardDecision) error {
	po := d.SamplePO
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(190, 10, "SAMPLE PURCHASE ORDER")
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(95, 6, tr("PO No: "+po.POID))
	pdf.Cell(95, 6, tr("Issued: "+po.IssueDate))
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(95, 6, tr("Product: "+productName))
	pdf.Cell(95, 6, tr("Supplier: "+po.SupplierName))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(70, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(45, 8, "Unit Price", "1", 0, "C", true, 0, "")
	pdf.CellFormat(45, 8, "Amount", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(70, 8, tr("Sample units"), "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, fmt.Sprintf("%d", po.Quantity), "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 8, fmt.Sprintf("%.2f %s", po.UnitPrice, po.Currency), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 8, fmt.Sprintf("%.2f", float64(po.Quantity)*po.UnitPrice), "1", 1, "R", false, 0, "")
	pdf.CellFormat(70, 8, "Tooling", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, "1", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 8, fmt.Sprintf("%.2f %s", po.ToolingCost, po.Currency), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 8, fmt.Sprintf("%.2f", po.ToolingCost), "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(145, 8, "Estimated Total")
	pdf.CellFormat(45, 8, fmt.Sprintf("%.2f %s", po.EstimatedTotal, po.Currency), "1", 1, "R", false, 0, "")
	pdf.Ln(4)

	pdf.Cell(190, 8, tr(fmt.Sprintf("Incoterm: %s    Payment: %s", po.Incoterm, po.PaymentTerms)))
	pdf.Ln(10)

	section := func(title string, lines []string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(190, 8, title)
		pdf.Ln(7)
		pdf.SetFont("Arial", "", 10)
		for _, line := range lines {
			pdf.MultiCell(190, 6, tr("- "+line), "", "L", false)
		}
		pdf.Ln(3)
	}
	section("Required documents", po.RequiredDocs)
	section("Acceptance criteria", po.AcceptanceCriteria)
	section("Next actions", po.NextActions)

	if rec, ok := d.Recommended(); ok {
		section("Award rationale", append([]string{
			fmt.Sprintf("Total score %.2f, landed unit cost %.4f USD", rec.TotalScore, rec.LandedUnitCostUSD),
		}, rec.Reasons...))
	}

	return pdf.Output(w)
}

// WriteRankingXLSX writes the ranking as a single-sheet workbook.
func WriteRankingXLSX(w io.Writer, d domain.AwardDecision) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(rankingSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	headers := []string{
		"Rank", "Supplier", "Supplier ID", "Total Score", "Landed Unit Cost (USD)",
		"Lead Time (days)", "MOQ", "Cost Score", "Lead Score", "MOQ Score",
		"Confidence", "Risk Score", "Recommended", "Reasons",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(rankingSheet, cell, h)
		f.SetCellStyle(rankingSheet, cell, cell, headerStyle)
	}

	for i, r := range d.Ranking {
		row := []any{
			i + 1, r.SupplierName, r.SupplierID, r.TotalScore, r.LandedUnitCostUSD,
			r.LeadTimeDays, r.MOQ, r.ScoreBreakdown.CostScore, r.ScoreBreakdown.LeadScore,
			r.ScoreBreakdown.MOQScore, r.ScoreBreakdown.ConfidenceScore, r.ScoreBreakdown.RiskScore,
			recommendedMark(r.SupplierID == d.RecommendedSupplierID), strings.Join(r.Reasons, " "),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(rankingSheet, cell, &row); err != nil {
			return err
		}
	}

	last, _ := excelize.ColumnNumberToName(len(headers))
	f.SetColWidth(rankingSheet, "A", last, 16)

	return f.Write(w)
}

func recommendedMark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
