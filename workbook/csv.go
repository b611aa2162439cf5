package workbook

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/warp/prg-engine/allocation"
)

// utf8BOM lets spreadsheet programs detect the encoding of Cyrillic text.
const utf8BOM = "\ufeff"

var mismatchHeader = []string{
	"Район (МО)",
	"Населенный пункт",
	"Название организации",
	"Причина несоответствия",
	"ГРС в ИД",
	"ГРС из кода схемы",
	"Полный код схемы",
	"Лист Excel",
	"Строка Excel",
}

// WriteMismatchesCSV exports GRS mismatches as ';'-separated CSV.
// Rows are one-based, as the operator sees them.
func WriteMismatchesCSV(w io.Writer, mismatches []allocation.GRSMismatch) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	writer.Comma = ';'

	if err := writer.Write(mismatchHeader); err != nil {
		return err
	}
	for _, m := range mismatches {
		c := m.Consumer
		record := []string{
			c.District,
			c.Settlement,
			c.Name,
			string(m.Issue),
			m.GRSByReference,
			m.GRSInCode,
			c.BindingCode,
			c.Origin.Sheet,
			strconv.Itoa(c.Origin.Row + 1),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteMismatchesCSVFile is WriteMismatchesCSV into a new file.
func WriteMismatchesCSVFile(path string, mismatches []allocation.GRSMismatch) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	if err := WriteMismatchesCSV(file, mismatches); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
