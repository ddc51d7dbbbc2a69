// Package xlsx stores tracked items in the sheets of an .xlsx workbook,
// one collection per sheet, one item per row below a header row.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// Column headers.
const (
	colLink        = "Link"
	colStatus      = "Status"
	colTitle       = "Title"
	colEmbed       = "Embed Link"
	colLastChecked = "Last Checked (CST)"
	colLastLive    = "Last Live (CST)"
	colDisable     = "Disable Status Checks"
	colSource      = "Source"
	colPlatform    = "Platform"
)

// TimeLayout is the timestamp format of the date columns.
const TimeLayout = "1/2/06 15:04:05"

// headerRow is the 1-based row holding the column names.
const headerRow = 1

var defaultHeader = []string{
	colLink, colStatus, colTitle, colEmbed, colLastChecked, colLastLive, colDisable, colSource, colPlatform,
}

// Workbook implements domain.ItemStore on an .xlsx file. Every call reads
// the file from disk, so edits made by people between calls are seen.
// Positions are 1-based sheet row numbers.
type Workbook struct {
	path string
	loc  *time.Location

	mu sync.Mutex
}

// Open checks that the workbook at path can be read. Timestamps are
// written and parsed in loc.
func Open(path string, loc *time.Location) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	f.Close()
	return &Workbook{path: path, loc: loc}, nil
}

// ListItems returns the rows of a sheet in order.
func (w *Workbook) ListItems(ctx context.Context, collection string) ([]domain.TrackedItem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := sheetRows(f, collection)
	if err != nil {
		return nil, err
	}
	if len(rows) < headerRow {
		return nil, nil
	}
	cols := columnIndex(rows[headerRow-1])

	items := make([]domain.TrackedItem, 0, len(rows)-headerRow)
	for i := headerRow; i < len(rows); i++ {
		items = append(items, w.decode(collection, int64(i+1), cols, rows[i]))
	}
	return items, nil
}

// GetItemAt returns the item in a sheet row.
func (w *Workbook) GetItemAt(ctx context.Context, collection string, position int64) (*domain.TrackedItem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := sheetRows(f, collection)
	if err != nil {
		return nil, err
	}
	if position <= headerRow || position > int64(len(rows)) || isBlank(rows[position-1]) {
		return nil, domain.ErrItemNotFound
	}
	it := w.decode(collection, position, columnIndex(rows[headerRow-1]), rows[position-1])
	return &it, nil
}

// UpdateItem writes the item columns of a row. Other columns are kept.
func (w *Workbook) UpdateItem(ctx context.Context, collection string, position int64, fields domain.Fields) error {
	return w.modify(func(f *excelize.File) error {
		rows, err := sheetRows(f, collection)
		if err != nil {
			return err
		}
		if position <= headerRow || position > int64(len(rows)) || isBlank(rows[position-1]) {
			return domain.ErrItemNotFound
		}
		cols, err := ensureHeader(f, collection, rows, fields.Extra)
		if err != nil {
			return err
		}
		return w.encode(f, collection, position, cols, fields)
	})
}

// AppendItem writes a new row after the last one, creating the sheet and
// its header if needed.
func (w *Workbook) AppendItem(ctx context.Context, collection string, fields domain.Fields) error {
	return w.modify(func(f *excelize.File) error {
		if idx, _ := f.GetSheetIndex(collection); idx == -1 {
			if _, err := f.NewSheet(collection); err != nil {
				return fmt.Errorf("create sheet %s: %w", collection, err)
			}
		}
		rows, err := sheetRows(f, collection)
		if err != nil {
			return err
		}
		cols, err := ensureHeader(f, collection, rows, fields.Extra)
		if err != nil {
			return err
		}
		next := int64(max(len(rows), headerRow) + 1)
		return w.encode(f, collection, next, cols, fields)
	})
}

// DeleteItem removes a row; the rows below move up.
func (w *Workbook) DeleteItem(ctx context.Context, collection string, position int64) error {
	return w.modify(func(f *excelize.File) error {
		rows, err := sheetRows(f, collection)
		if err != nil {
			return err
		}
		if position <= headerRow || position > int64(len(rows)) {
			return domain.ErrItemNotFound
		}
		if err := f.RemoveRow(collection, int(position)); err != nil {
			return fmt.Errorf("remove row: %w", err)
		}
		return nil
	})
}

// modify opens the workbook, applies fn and saves it. A spreadsheet
// application holding the file open makes the workbook busy.
func (w *Workbook) modify(fn func(f *excelize.File) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lock := w.lockFile(); lock != "" {
		return fmt.Errorf("%w: %s is open in %s", domain.ErrStoreBusy, filepath.Base(w.path), lock)
	}

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// lockFile returns the name of an office lock file next to the workbook.
func (w *Workbook) lockFile() string {
	dir, base := filepath.Split(w.path)
	for _, name := range []string{".~lock." + base + "#", "~$" + base} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return name
		}
	}
	return ""
}

func sheetRows(f *excelize.File, sheet string) ([][]string, error) {
	if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := cols[name]; name != "" && !dup {
			cols[name] = i
		}
	}
	return cols
}

// ensureHeader adds missing item columns, then the missing extra columns
// in name order, to the right of the header.
func ensureHeader(f *excelize.File, sheet string, rows [][]string, extra map[string]string) (map[string]int, error) {
	var header []string
	if len(rows) >= headerRow {
		header = rows[headerRow-1]
	}
	cols := columnIndex(header)
	names := append(slices.Clone(defaultHeader), slices.Sorted(maps.Keys(extra))...)
	next := len(header)
	for _, name := range names {
		if _, ok := cols[name]; ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(next+1, headerRow)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		cols[name] = next
		next++
	}
	return cols, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (w *Workbook) decode(collection string, position int64, cols map[string]int, row []string) domain.TrackedItem {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	var extra map[string]string
	for name, i := range cols {
		if slices.Contains(defaultHeader, name) || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			if extra == nil {
				extra = make(map[string]string)
			}
			extra[name] = v
		}
	}
	return domain.TrackedItem{
		Link:          cell(colLink),
		Status:        domain.ParseStatus(cell(colStatus)),
		Title:         cell(colTitle),
		EmbedLink:     cell(colEmbed),
		LastCheckedAt: w.parseTime(cell(colLastChecked)),
		LastLiveAt:    w.parseTime(cell(colLastLive)),
		Disabled:      cell(colDisable) != "",
		Source:        cell(colSource),
		Platform:      cell(colPlatform),
		Extra:         extra,
		Collection:    collection,
		Position:      position,
	}
}

func (w *Workbook) encode(f *excelize.File, sheet string, position int64, cols map[string]int, fields domain.Fields) error {
	disabled := ""
	if fields.Disabled {
		disabled = "TRUE"
	}
	status := string(fields.Status)
	if fields.Status == domain.StatusUnknown && fields.LastCheckedAt.IsZero() {
		status = ""
	}
	values := map[string]string{
		colLink:        fields.Link,
		colStatus:      status,
		colTitle:       fields.Title,
		colEmbed:       fields.EmbedLink,
		colLastChecked: w.formatTime(fields.LastCheckedAt),
		colLastLive:    w.formatTime(fields.LastLiveAt),
		colDisable:     disabled,
		colSource:      fields.Source,
		colPlatform:    fields.Platform,
	}
	for name, v := range fields.Extra {
		if _, known := values[name]; !known {
			values[name] = v
		}
	}
	for name, v := range values {
		cell, err := excelize.CoordinatesToCellName(cols[name]+1, int(position))
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, v); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (w *Workbook) parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimeLayout, s, w.loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (w *Workbook) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(w.loc).Format(TimeLayout)
}

var _ domain.ItemStore = (*Workbook)(nil)

// errSheet is returned by Create for an empty sheet list.
var errSheet = errors.New("workbook needs at least one sheet")

// Create writes a new workbook at path with the given sheets, each with
// the item header row.
func Create(path string, sheets ...string) error {
	if len(sheets) == 0 {
		return errSheet
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheets[0]); err != nil {
		return err
	}
	for _, s := range sheets[1:] {
		if _, err := f.NewSheet(s); err != nil {
			return err
		}
	}
	for _, s := range sheets {
		if err := f.SetSheetRow(s, "A1", &defaultHeader); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
