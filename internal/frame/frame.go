// Package frame holds the immutable tabular snapshot the analysis engine
// consumes.
//
// A Snapshot is built once at ingestion time and never mutated afterwards:
// every column is fully typed (numeric, date or categorical), carries a null
// mask, and preserves the original row order. All downstream evaluation is
// read-only, which is what makes parallel combination evaluation and
// content-hash caching safe.
package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the resolved type of a column.
type Kind int

const (
	Numeric Kind = iota
	Date
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Date:
		return "date"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts the wire form ("numeric", "date", "categorical") into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric":
		return Numeric, nil
	case "date":
		return Date, nil
	case "categorical":
		return Categorical, nil
	default:
		return 0, fmt.Errorf("frame: unknown column kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so column-type maps serialize
// as their wire form in config hashes and history records.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Column is one fully typed column. Exactly one of Nums/Times/Strs is
// populated, matching Kind; Null marks missing cells in all three cases.
//
// Raw keeps the original cell text for every row (empty for nulls). It is what
// identifier samples and SQL relation loading render, so both backends agree on
// the textual form of a value.
type Column struct {
	Name string
	Kind Kind

	Nums  []float64
	Times []time.Time
	Strs  []string
	Null  []bool
	Raw   []string
}

// Len returns the number of rows in the column.
func (c *Column) Len() int { return len(c.Null) }

// Snapshot is an immutable, fully typed table.
type Snapshot struct {
	cols   []Column
	byName map[string]int
	nrows  int
}

// New validates the columns (unique names, equal lengths, type storage matching
// Kind) and assembles a Snapshot.
func New(columns []Column) (*Snapshot, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("frame: snapshot needs at least one column")
	}

	nrows := columns[0].Len()
	byName := make(map[string]int, len(columns))

	for i, c := range columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("frame: column %d has an empty name", i)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("frame: duplicate column %q", c.Name)
		}
		byName[c.Name] = i

		if c.Len() != nrows {
			return nil, fmt.Errorf("frame: column %q has %d rows, want %d", c.Name, c.Len(), nrows)
		}
		if len(c.Raw) != nrows {
			return nil, fmt.Errorf("frame: column %q raw cells length %d, want %d", c.Name, len(c.Raw), nrows)
		}
		switch c.Kind {
		case Numeric:
			if len(c.Nums) != nrows {
				return nil, fmt.Errorf("frame: numeric column %q storage length %d, want %d", c.Name, len(c.Nums), nrows)
			}
		case Date:
			if len(c.Times) != nrows {
				return nil, fmt.Errorf("frame: date column %q storage length %d, want %d", c.Name, len(c.Times), nrows)
			}
		case Categorical:
			if len(c.Strs) != nrows {
				return nil, fmt.Errorf("frame: categorical column %q storage length %d, want %d", c.Name, len(c.Strs), nrows)
			}
		default:
			return nil, fmt.Errorf("frame: column %q has unknown kind %d", c.Name, int(c.Kind))
		}
	}

	return &Snapshot{cols: columns, byName: byName, nrows: nrows}, nil
}

func (s *Snapshot) NumRows() int    { return s.nrows }
func (s *Snapshot) NumColumns() int { return len(s.cols) }

// ColumnNames returns the column names in snapshot order.
func (s *Snapshot) ColumnNames() []string {
	out := make([]string, len(s.cols))
	for i := range s.cols {
		out[i] = s.cols[i].Name
	}
	return out
}

// Column returns the named column, or false if it does not exist.
func (s *Snapshot) Column(name string) (*Column, bool) {
	i, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return &s.cols[i], true
}

// KindOf returns the resolved kind of the named column.
func (s *Snapshot) KindOf(name string) (Kind, bool) {
	c, ok := s.Column(name)
	if !ok {
		return 0, false
	}
	return c.Kind, true
}

// ColumnTypes returns a fresh name→kind map, suitable for config hashing.
func (s *Snapshot) ColumnTypes() map[string]Kind {
	out := make(map[string]Kind, len(s.cols))
	for i := range s.cols {
		out[s.cols[i].Name] = s.cols[i].Kind
	}
	return out
}

// CellString renders one cell as text, in the same form both evaluation
// backends use. Null cells render as "".
func (s *Snapshot) CellString(name string, row int) (string, bool) {
	c, ok := s.Column(name)
	if !ok || row < 0 || row >= s.nrows {
		return "", false
	}
	if c.Null[row] {
		return "", true
	}
	return c.Raw[row], true
}

// DistinctValues returns the distinct non-null values of a categorical column
// in first-appearance order. First-appearance order is a property of the data,
// so it is deterministic for a fixed snapshot.
func (s *Snapshot) DistinctValues(name string) ([]string, error) {
	c, ok := s.Column(name)
	if !ok {
		return nil, fmt.Errorf("frame: no column %q", name)
	}
	if c.Kind != Categorical {
		return nil, fmt.Errorf("frame: column %q is %s, not categorical", name, c.Kind)
	}

	seen := make(map[string]struct{})
	var out []string
	for i := range c.Strs {
		if c.Null[i] {
			continue
		}
		v := c.Strs[i]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// TopValues returns the n most frequent non-null values of a categorical
// column, most frequent first. Ties break on first appearance so the result is
// deterministic.
func (s *Snapshot) TopValues(name string, n int) ([]string, error) {
	distinct, err := s.DistinctValues(name)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("frame: top values count must be positive, got %d", n)
	}

	c, _ := s.Column(name)
	counts := make(map[string]int, len(distinct))
	for i := range c.Strs {
		if !c.Null[i] {
			counts[c.Strs[i]]++
		}
	}

	out := append([]string(nil), distinct...)
	// Stable sort by descending count; equal counts keep first-appearance order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && counts[out[j]] > counts[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// TimeBounds returns the min and max non-null timestamps of a date column.
// ok is false when the column holds no non-null values.
func (s *Snapshot) TimeBounds(name string) (min, max time.Time, ok bool, err error) {
	c, found := s.Column(name)
	if !found {
		return time.Time{}, time.Time{}, false, fmt.Errorf("frame: no column %q", name)
	}
	if c.Kind != Date {
		return time.Time{}, time.Time{}, false, fmt.Errorf("frame: column %q is %s, not date", name, c.Kind)
	}

	for i := range c.Times {
		if c.Null[i] {
			continue
		}
		t := c.Times[i]
		if !ok {
			min, max, ok = t, t, true
			continue
		}
		if t.Before(min) {
			min = t
		}
		if t.After(max) {
			max = t
		}
	}
	return min, max, ok, nil
}

// timeLayouts are the accepted date/timestamp forms, most specific first.
// The engine does not auto-detect formats beyond this fixed set.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02/01/2006",
}

// ParseTime parses a cell or configuration value into a timestamp using the
// fixed layout set. All values are interpreted as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("frame: empty time value")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("frame: unsupported time format %q", s)
}

// DateOnly truncates a timestamp to its date part (UTC midnight). Boundary
// comparisons for "before"/"after"/"on" filters work on this value.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BuildColumn parses raw string cells into a typed column of the given kind.
// Empty cells become nulls; a non-empty cell that fails to parse is an error,
// because by the time a column is built its kind has already been inferred or
// declared by the caller.
func BuildColumn(name string, kind Kind, cells []string) (Column, error) {
	n := len(cells)
	c := Column{
		Name: name,
		Kind: kind,
		Null: make([]bool, n),
		Raw:  make([]string, n),
	}

	switch kind {
	case Numeric:
		c.Nums = make([]float64, n)
	case Date:
		c.Times = make([]time.Time, n)
	case Categorical:
		c.Strs = make([]string, n)
	default:
		return Column{}, fmt.Errorf("frame: unknown kind %d for column %q", int(kind), name)
	}

	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			c.Null[i] = true
			continue
		}
		c.Raw[i] = cell

		switch kind {
		case Numeric:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Column{}, fmt.Errorf("frame: column %q row %d: %q is not numeric", name, i+1, cell)
			}
			c.Nums[i] = v
		case Date:
			t, err := ParseTime(cell)
			if err != nil {
				return Column{}, fmt.Errorf("frame: column %q row %d: %w", name, i+1, err)
			}
			c.Times[i] = t
		case Categorical:
			c.Strs[i] = cell
		}
	}
	return c, nil
}
