package export

import (
	"encoding/csv"
	"errors"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
)

// WriteCSV writes recs as a headed CSV table.
func WriteCSV(w io.Writer, recs []model.ApplicationRecord) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(recs) == 0 {
		if err := enc.EncodeHeader(Row{}); err != nil {
			return eris.Wrap(err, "export: csv header")
		}
	}
	for _, rec := range recs {
		if err := enc.Encode(FromRecord(rec)); err != nil {
			return eris.Wrapf(err, "export: csv row %s", rec.DANumber)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// ReadCSV reads a table written by WriteCSV. Columns are matched by header
// name, so column order does not matter and unknown columns are ignored.
func ReadCSV(r io.Reader) ([]Row, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv header")
	}
	var rows []Row
	for {
		var row Row
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "export: decode csv row %d", len(rows)+1)
		}
		rows = append(rows, row)
	}
}
