// Package threshold models per-column threshold configurations and expands
// them into concrete condition variants.
//
// A Config arrives as loosely shaped JSON (the upstream UI builds it), so this
// package validates it exactly once, at expansion time, into a closed set of
// variants. An unknown or inconsistent configuration is a *ConfigError, never
// an empty variant list: silently producing no variants would exclude the
// column from every combination that should include it.
package threshold

import (
	"fmt"
	"strings"
)

// Numeric config types.
const (
	TypeMean        = "mean"
	TypeMedian      = "median"
	TypeCustom      = "custom"
	TypeRange       = "range"
	TypeGreaterThan = "multiple_greater_than"
	TypeLessThan    = "multiple_less_than"
	TypeOrGroup     = "multiple_conditions_or"
)

// Categorical config types.
const (
	TypeCategorical    = "categorical"
	TypeCategoricalAll = "categorical_all"
	TypeCategoricalTop = "categorical_top_n"
)

// Date config types.
const (
	TypeSingleRange    = "single_range"
	TypeMultipleRanges = "multiple_ranges"
	TypeBefore         = "multiple_before"
	TypeAfter          = "multiple_after"
	TypeOn             = "multiple_on"
	TypeLastNDays      = "multiple_last_n_days"
	TypeFirstNDays     = "multiple_first_n_days"
)

// Config describes how one column's values should be partitioned into
// condition variants. Type selects the kind; only the fields belonging to that
// kind are read, everything else is ignored.
type Config struct {
	Type string `json:"type"`

	// mean | median | custom
	Value *float64 `json:"value,omitempty"`

	// range
	Ranges []NumericRange `json:"ranges,omitempty"`

	// multiple_greater_than | multiple_less_than
	Values []float64 `json:"values,omitempty"`

	// multiple_conditions_or
	Conditions []OrCondition `json:"conditions,omitempty"`

	// categorical
	ValueGroups [][]string `json:"value_groups,omitempty"`

	// categorical_top_n
	TopN int `json:"top_n,omitempty"`

	// single_range
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	// multiple_ranges
	DateRanges []DateRange `json:"date_ranges,omitempty"`

	// multiple_before | multiple_after | multiple_on
	Dates []string `json:"dates,omitempty"`

	// multiple_last_n_days | multiple_first_n_days
	Days []int `json:"days,omitempty"`
}

// NumericRange is one [Start,End) division; the expansion marks the final
// division of a range config as closed on the right.
type NumericRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// OrCondition is one member of a multiple_conditions_or config.
type OrCondition struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// DateRange is one inclusive date range.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ConfigError reports an unknown or internally inconsistent threshold
// configuration. It is always fatal to the run and is raised before any
// evaluation begins.
type ConfigError struct {
	Column string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("threshold config for column %q: %s", e.Column, e.Reason)
}

func configErrf(column, format string, v ...any) *ConfigError {
	return &ConfigError{Column: column, Reason: fmt.Sprintf(format, v...)}
}

// validOrOperators is the closed operator set accepted inside an OR group.
var validOrOperators = map[string]struct{}{
	">": {}, "<": {}, ">=": {}, "<=": {},
}

func validateOrOperator(column, op string) error {
	if _, ok := validOrOperators[strings.TrimSpace(op)]; !ok {
		return configErrf(column, "unsupported operator %q in OR group", op)
	}
	return nil
}
