package sheets

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── In-Memory Mirror ───────────────────────────────────────────────────────

// FakeMirror is an in-memory MirrorStore for tests and local development.
// Rows keep stable 1-based indexes (header included) like a real sheet, and
// every method can be made to fail to exercise retry paths.
type FakeMirror struct {
	mu     sync.Mutex
	sheets map[string][]domain.MirrorRow

	// FailWrites makes mutating calls return ErrDown until cleared.
	FailWrites bool
	// FailReads makes ReadRows and ListSheets return ErrDown until cleared.
	FailReads bool

	// WriteCount counts successful mutating calls.
	WriteCount int
}

// ErrDown is the failure FakeMirror injects when told to.
var ErrDown = fmt.Errorf("mirror unavailable")

var _ domain.MirrorStore = (*FakeMirror)(nil)

// NewFakeMirror returns an empty fake with no tabs.
func NewFakeMirror() *FakeMirror {
	return &FakeMirror{sheets: make(map[string][]domain.MirrorRow)}
}

// AddSheet creates a tab, replacing any existing rows.
func (f *FakeMirror) AddSheet(name string, rows ...domain.MirrorRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]domain.MirrorRow, len(rows))
	copy(copied, rows)
	for i := range copied {
		copied[i].RowIndex = headerRows + 1 + i
	}
	f.sheets[name] = copied
}

// Row returns the current row for a user id, for assertions.
func (f *FakeMirror) Row(sheetName, userID string) (domain.MirrorRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.sheets[sheetName] {
		if r.UserID == userID {
			return r, true
		}
	}
	return domain.MirrorRow{}, false
}

func (f *FakeMirror) ReadRows(_ context.Context, sheetName string) ([]domain.MirrorRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReads {
		return nil, ErrDown
	}
	rows, ok := f.sheets[sheetName]
	if !ok {
		return nil, fmt.Errorf("sheets: no tab named %q", sheetName)
	}
	out := make([]domain.MirrorRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (f *FakeMirror) WriteRow(_ context.Context, sheetName string, rowIndex int, points int64, stamp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return ErrDown
	}
	rows, ok := f.sheets[sheetName]
	if !ok {
		return fmt.Errorf("sheets: no tab named %q", sheetName)
	}
	for i := range rows {
		if rows[i].RowIndex == rowIndex {
			rows[i].Points = points
			rows[i].UpdatedAt = stamp
			f.WriteCount++
			return nil
		}
	}
	return fmt.Errorf("sheets: %s has no row %d", sheetName, rowIndex)
}

func (f *FakeMirror) AppendRow(_ context.Context, sheetName string, row domain.MirrorRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return ErrDown
	}
	rows := f.sheets[sheetName]
	row.RowIndex = headerRows + 1 + len(rows)
	f.sheets[sheetName] = append(rows, row)
	f.WriteCount++
	return nil
}

func (f *FakeMirror) DeleteRow(_ context.Context, sheetName string, rowIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return ErrDown
	}
	rows, ok := f.sheets[sheetName]
	if !ok {
		return fmt.Errorf("sheets: no tab named %q", sheetName)
	}
	for i := range rows {
		if rows[i].RowIndex == rowIndex {
			rows = append(rows[:i], rows[i+1:]...)
			// Later rows shift up, exactly as in a real sheet.
			for j := i; j < len(rows); j++ {
				rows[j].RowIndex--
			}
			f.sheets[sheetName] = rows
			f.WriteCount++
			return nil
		}
	}
	return fmt.Errorf("sheets: %s has no row %d", sheetName, rowIndex)
}

func (f *FakeMirror) ListSheets(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReads {
		return nil, ErrDown
	}
	names := make([]string, 0, len(f.sheets))
	for name := range f.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
