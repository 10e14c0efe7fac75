package threshold

import (
	"time"

	"thresher/internal/frame"
)

// Op is the predicate kind of a condition variant.
type Op int

const (
	// Numeric scalar comparisons.
	OpGE Op = iota
	OpGT
	OpLT
	OpLE

	// OpRange is a numeric [Lo,Hi) interval; LastRange closes the upper bound.
	OpRange

	// OpOr groups Sub variants with logical OR.
	OpOr

	// OpIn is categorical set membership over Set.
	OpIn

	// OpDateRange is an inclusive date-part interval [TimeLo,TimeHi].
	OpDateRange

	// OpBefore / OpAfter / OpOn compare only the date part against Time.
	OpBefore
	OpAfter
	OpOn

	// OpSince keeps timestamps >= Time; OpUntil keeps timestamps <= Time.
	// Unlike the date-part operators these compare full timestamps, matching
	// the last-N-days / first-N-days window semantics.
	OpSince
	OpUntil
)

// Variant is one concrete alternative predicate for a single column.
//
// Only the fields belonging to Op carry meaning. Variants are derived solely
// from one column's configuration (plus data-dependent bounds such as the top-N
// frequencies or the min/max date), never from other columns.
type Variant struct {
	Column string
	Kind   frame.Kind
	Op     Op

	// Numeric operands.
	Value     float64
	Lo, Hi    float64
	LastRange bool

	// Date operands.
	Time           time.Time
	TimeLo, TimeHi time.Time
	Days           int

	// Categorical operand.
	Set []string

	// OR-group members.
	Sub []Variant
}

// VariantSet is the ordered list of variants expanded from one column's
// configuration. The order is stable for a fixed config and data snapshot.
type VariantSet struct {
	Column   string
	Variants []Variant
}

// Expand turns one column's configuration into its variant set.
//
// The snapshot supplies the data-dependent pieces: distinct/top categorical
// values and the date bounds behind last-N-days / first-N-days windows.
// Configuration kinds must match the column's resolved kind; any mismatch,
// unknown kind, or inconsistent bound is a *ConfigError.
func Expand(snap *frame.Snapshot, column string, cfg Config) (VariantSet, error) {
	colKind, ok := snap.KindOf(column)
	if !ok {
		return VariantSet{}, configErrf(column, "column not present in snapshot")
	}

	switch cfg.Type {
	case TypeMean, TypeMedian, TypeCustom:
		return expandScalarSplit(column, colKind, cfg)
	case TypeRange:
		return expandNumericRanges(column, colKind, cfg)
	case TypeGreaterThan:
		return expandValueList(column, colKind, cfg, OpGT)
	case TypeLessThan:
		return expandValueList(column, colKind, cfg, OpLT)
	case TypeOrGroup:
		return expandOrGroup(column, colKind, cfg)

	case TypeCategorical:
		return expandValueGroups(column, colKind, cfg)
	case TypeCategoricalAll:
		return expandAllValues(snap, column, colKind)
	case TypeCategoricalTop:
		return expandTopValues(snap, column, colKind, cfg)

	case TypeSingleRange:
		return expandSingleDateRange(column, colKind, cfg)
	case TypeMultipleRanges:
		return expandDateRanges(column, colKind, cfg)
	case TypeBefore:
		return expandDateList(column, colKind, cfg, OpBefore)
	case TypeAfter:
		return expandDateList(column, colKind, cfg, OpAfter)
	case TypeOn:
		return expandDateList(column, colKind, cfg, OpOn)
	case TypeLastNDays:
		return expandDayWindows(snap, column, colKind, cfg, OpSince)
	case TypeFirstNDays:
		return expandDayWindows(snap, column, colKind, cfg, OpUntil)

	default:
		return VariantSet{}, configErrf(column, "unknown threshold type %q", cfg.Type)
	}
}

func requireKind(column string, got, want frame.Kind, cfgType string) error {
	if got != want {
		return configErrf(column, "config type %q requires a %s column, column is %s", cfgType, want, got)
	}
	return nil
}

func expandScalarSplit(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Numeric, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if cfg.Value == nil {
		return VariantSet{}, configErrf(column, "config type %q needs a value", cfg.Type)
	}
	v := *cfg.Value
	return VariantSet{Column: column, Variants: []Variant{
		{Column: column, Kind: colKind, Op: OpGE, Value: v},
		{Column: column, Kind: colKind, Op: OpLT, Value: v},
	}}, nil
}

func expandNumericRanges(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Numeric, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.Ranges) == 0 {
		return VariantSet{}, configErrf(column, "range config needs at least one division")
	}

	out := VariantSet{Column: column}
	for i, r := range cfg.Ranges {
		if r.End < r.Start {
			return VariantSet{}, configErrf(column, "range %d: end %v precedes start %v", i+1, r.End, r.Start)
		}
		out.Variants = append(out.Variants, Variant{
			Column:    column,
			Kind:      colKind,
			Op:        OpRange,
			Lo:        r.Start,
			Hi:        r.End,
			LastRange: i == len(cfg.Ranges)-1,
		})
	}
	return out, nil
}

func expandValueList(column string, colKind frame.Kind, cfg Config, op Op) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Numeric, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.Values) == 0 {
		return VariantSet{}, configErrf(column, "config type %q needs at least one value", cfg.Type)
	}

	out := VariantSet{Column: column}
	for _, v := range cfg.Values {
		out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: op, Value: v})
	}
	return out, nil
}

// expandOrGroup emits one variant per individual condition plus a final
// OR-group variant combining all of them.
func expandOrGroup(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Numeric, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.Conditions) == 0 {
		return VariantSet{}, configErrf(column, "OR config needs at least one condition")
	}

	out := VariantSet{Column: column}
	group := make([]Variant, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		if err := validateOrOperator(column, c.Operator); err != nil {
			return VariantSet{}, err
		}
		v := Variant{Column: column, Kind: colKind, Op: opForSymbol(c.Operator), Value: c.Value}
		out.Variants = append(out.Variants, v)
		group = append(group, v)
	}
	out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: OpOr, Sub: group})
	return out, nil
}

func opForSymbol(sym string) Op {
	switch sym {
	case ">":
		return OpGT
	case "<":
		return OpLT
	case ">=":
		return OpGE
	default: // "<=", guarded by validateOrOperator
		return OpLE
	}
}

func expandValueGroups(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Categorical, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.ValueGroups) == 0 {
		return VariantSet{}, configErrf(column, "categorical config needs at least one value group")
	}

	out := VariantSet{Column: column}
	for i, g := range cfg.ValueGroups {
		if len(g) == 0 {
			return VariantSet{}, configErrf(column, "value group %d is empty", i+1)
		}
		out.Variants = append(out.Variants, Variant{
			Column: column,
			Kind:   colKind,
			Op:     OpIn,
			Set:    append([]string(nil), g...),
		})
	}
	return out, nil
}

// expandAllValues emits one single-value variant per distinct value, never a
// combined group.
func expandAllValues(snap *frame.Snapshot, column string, colKind frame.Kind) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Categorical, TypeCategoricalAll); err != nil {
		return VariantSet{}, err
	}
	values, err := snap.DistinctValues(column)
	if err != nil {
		return VariantSet{}, configErrf(column, "%v", err)
	}
	if len(values) == 0 {
		return VariantSet{}, configErrf(column, "column has no non-null values to enumerate")
	}

	out := VariantSet{Column: column}
	for _, v := range values {
		out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: OpIn, Set: []string{v}})
	}
	return out, nil
}

func expandTopValues(snap *frame.Snapshot, column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Categorical, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if cfg.TopN <= 0 {
		return VariantSet{}, configErrf(column, "top-N config needs a positive count, got %d", cfg.TopN)
	}
	values, err := snap.TopValues(column, cfg.TopN)
	if err != nil {
		return VariantSet{}, configErrf(column, "%v", err)
	}
	if len(values) == 0 {
		return VariantSet{}, configErrf(column, "column has no non-null values to rank")
	}

	out := VariantSet{Column: column}
	for _, v := range values {
		out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: OpIn, Set: []string{v}})
	}
	return out, nil
}

func parseConfigDate(column, field, s string) (time.Time, error) {
	t, err := frame.ParseTime(s)
	if err != nil {
		return time.Time{}, configErrf(column, "%s: %v", field, err)
	}
	return frame.DateOnly(t), nil
}

func expandSingleDateRange(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Date, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	v, err := dateRangeVariant(column, colKind, DateRange{StartDate: cfg.StartDate, EndDate: cfg.EndDate})
	if err != nil {
		return VariantSet{}, err
	}
	return VariantSet{Column: column, Variants: []Variant{v}}, nil
}

func expandDateRanges(column string, colKind frame.Kind, cfg Config) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Date, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.DateRanges) == 0 {
		return VariantSet{}, configErrf(column, "multiple-ranges config needs at least one range")
	}

	out := VariantSet{Column: column}
	for _, r := range cfg.DateRanges {
		v, err := dateRangeVariant(column, colKind, r)
		if err != nil {
			return VariantSet{}, err
		}
		out.Variants = append(out.Variants, v)
	}
	return out, nil
}

func dateRangeVariant(column string, colKind frame.Kind, r DateRange) (Variant, error) {
	lo, err := parseConfigDate(column, "start_date", r.StartDate)
	if err != nil {
		return Variant{}, err
	}
	hi, err := parseConfigDate(column, "end_date", r.EndDate)
	if err != nil {
		return Variant{}, err
	}
	if hi.Before(lo) {
		return Variant{}, configErrf(column, "end date %s precedes start date %s", r.EndDate, r.StartDate)
	}
	return Variant{Column: column, Kind: colKind, Op: OpDateRange, TimeLo: lo, TimeHi: hi}, nil
}

func expandDateList(column string, colKind frame.Kind, cfg Config, op Op) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Date, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.Dates) == 0 {
		return VariantSet{}, configErrf(column, "config type %q needs at least one date", cfg.Type)
	}

	out := VariantSet{Column: column}
	for _, d := range cfg.Dates {
		t, err := parseConfigDate(column, "date", d)
		if err != nil {
			return VariantSet{}, err
		}
		out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: op, Time: t})
	}
	return out, nil
}

// expandDayWindows anchors last-N-days windows at the column's max date and
// first-N-days windows at its min date, per the window semantics:
// last-N keeps timestamps >= max-N days, first-N keeps timestamps <= min+N days.
func expandDayWindows(snap *frame.Snapshot, column string, colKind frame.Kind, cfg Config, op Op) (VariantSet, error) {
	if err := requireKind(column, colKind, frame.Date, cfg.Type); err != nil {
		return VariantSet{}, err
	}
	if len(cfg.Days) == 0 {
		return VariantSet{}, configErrf(column, "config type %q needs at least one day count", cfg.Type)
	}

	min, max, ok, err := snap.TimeBounds(column)
	if err != nil {
		return VariantSet{}, configErrf(column, "%v", err)
	}
	if !ok {
		return VariantSet{}, configErrf(column, "column has no non-null dates to anchor a window")
	}

	out := VariantSet{Column: column}
	for _, days := range cfg.Days {
		if days <= 0 {
			return VariantSet{}, configErrf(column, "day count must be positive, got %d", days)
		}
		var cutoff time.Time
		if op == OpSince {
			cutoff = max.AddDate(0, 0, -days)
		} else {
			cutoff = min.AddDate(0, 0, days)
		}
		out.Variants = append(out.Variants, Variant{Column: column, Kind: colKind, Op: op, Time: cutoff, Days: days})
	}
	return out, nil
}
