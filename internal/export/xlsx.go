package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/da-ingest/internal/model"
)

// SheetName is the worksheet applications are written to.
const SheetName = "Applications"

// WriteXLSX writes recs as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, recs []model.ApplicationRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addRow(sheet, Columns)
	for _, rec := range recs {
		addRow(sheet, FromRecord(rec).cells())
	}
	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// ReadXLSX reads the applications sheet of a workbook written by WriteXLSX,
// or the first sheet when there is no sheet of that name.
func ReadXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.New("xlsx: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	index := make(map[string]int)
	for i, name := range rowToStrings(sheet.Rows[0]) {
		index[name] = i
	}
	if _, ok := index["DA_Number"]; !ok {
		return nil, eris.Errorf("xlsx: sheet %q has no DA_Number column", sheet.Name)
	}

	rows := make([]Row, 0, len(sheet.Rows)-1)
	for _, r := range sheet.Rows[1:] {
		cells := rowToStrings(r)
		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(cells) {
				return cells[i]
			}
			return ""
		}
		if get("DA_Number") == "" {
			continue
		}
		rows = append(rows, Row{
			DANumber:        get("DA_Number"),
			DetailURL:       get("Detail_URL"),
			Description:     get("Description"),
			SubmittedDate:   get("Submitted_Date"),
			Decision:        get("Decision"),
			Category:        get("Categories"),
			PropertyAddress: get("Property_Address"),
			Applicant:       get("Applicant"),
			Progress:        get("Progress"),
			Fees:            get("Fees"),
			Documents:       get("Documents"),
			ContactCouncil:  get("Contact_Council"),
			RawDecision:     get("Raw_Decision"),
			RawCategory:     get("Raw_Category"),
		})
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
