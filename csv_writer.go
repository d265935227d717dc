package surveyeda

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes t to w as CSV, with a header row of column names.
// Missing values are written as empty fields.
func WriteCSV(w io.Writer, t *Table) error {

	cw := csv.NewWriter(w)

	if err := cw.Write(t.Names()); err != nil {
		return err
	}

	cols := t.Columns()
	row := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			row[j] = c.ValueString(i)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
