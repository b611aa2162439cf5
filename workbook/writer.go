package workbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/warp/prg-engine/allocation"
)

// CellError describes a change that could not be written to its cell.
type CellError struct {
	ChangeID allocation.ChangeID
	Sheet    string
	Row      int // zero-based
	Column   int // zero-based
	Err      error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("change %s: cell %s[%d,%d]: %v", e.ChangeID, e.Sheet, e.Row, e.Column, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

var (
	ErrUnknownSheet = errors.New("sheet does not exist")
	ErrBadLoadValue = errors.New("load value is not a number")
)

// ApplyResult reports what Apply wrote.
type ApplyResult struct {
	BackupPath string
	Saved      []allocation.ChangeID
	Skipped    []*CellError
}

// =============================================================================
// WRITER
// =============================================================================

// Writer writes committed change records back to the workbook.
type Writer struct {
	// Backup copies the workbook aside before the first write.
	Backup bool
	Now    func() time.Time
}

func NewWriter(backup bool) *Writer {
	return &Writer{Backup: backup, Now: time.Now}
}

// Apply writes each change's new value into its origin cell and saves the
// workbook once. Load changes are written as numbers, binding changes as
// text. Changes that point at a missing sheet or an invalid cell are
// skipped and reported; they do not abort the save.
func (w *Writer) Apply(ctx context.Context, path string, changes []allocation.ChangeRecord) (*ApplyResult, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "workbook").Logger()
	res := &ApplyResult{}

	if w.Backup {
		backup, err := w.backup(path)
		if err != nil {
			return nil, err
		}
		res.BackupPath = backup
		log.Info().Str("backup", backup).Msg("workbook backed up")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := make(map[string]bool)
	for _, s := range f.GetSheetList() {
		sheets[s] = true
	}

	for _, ch := range changes {
		if err := writeChange(f, sheets, ch); err != nil {
			var cellErr *CellError
			if !errors.As(err, &cellErr) {
				return nil, err
			}
			log.Warn().Err(err).Msg("change skipped")
			res.Skipped = append(res.Skipped, cellErr)
			continue
		}
		res.Saved = append(res.Saved, ch.ID)
	}

	if err := f.Save(); err != nil {
		return nil, fmt.Errorf("save workbook %s: %w", path, err)
	}

	log.Info().Int("saved", len(res.Saved)).Int("skipped", len(res.Skipped)).Msg("workbook saved")
	return res, nil
}

func writeChange(f *excelize.File, sheets map[string]bool, ch allocation.ChangeRecord) error {
	fail := func(err error) error {
		return &CellError{ChangeID: ch.ID, Sheet: ch.Origin.Sheet, Row: ch.Origin.Row, Column: ch.Origin.Column, Err: err}
	}

	if !sheets[ch.Origin.Sheet] {
		return fail(ErrUnknownSheet)
	}
	name, err := excelize.CoordinatesToCellName(ch.Origin.Column+1, ch.Origin.Row+1)
	if err != nil {
		return fail(err)
	}

	if ch.IsLoadChange() {
		v, ok := allocation.ParseDecimal(ch.NewValue)
		if !ok {
			return fail(ErrBadLoadValue)
		}
		if err := f.SetCellValue(ch.Origin.Sheet, name, v); err != nil {
			return fail(err)
		}
		return nil
	}

	if err := f.SetCellValue(ch.Origin.Sheet, name, ch.NewValue); err != nil {
		return fail(err)
	}
	return nil
}

// =============================================================================
// BACKUP
// =============================================================================

// BackupName returns "<stem>_backup_<YYYYmmdd_HHMMSS><ext>" next to path.
func BackupName(path string, at time.Time) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_backup_%s%s", stem, at.Format("20060102_150405"), ext)
}

func (w *Writer) backup(path string) (string, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	base := BackupName(path, now())

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup workbook: %w", err)
	}
	defer in.Close()

	// Two saves within one second must not overwrite the older backup.
	dst := base
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	for n := 2; errors.Is(err, os.ErrExist) && n < 100; n++ {
		ext := filepath.Ext(base)
		dst = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), n, ext)
		out, err = os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("backup workbook: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("backup workbook: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("backup workbook: %w", err)
	}
	return dst, nil
}
