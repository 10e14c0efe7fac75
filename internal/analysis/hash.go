package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"thresher/internal/frame"
	"thresher/internal/threshold"
)

// hashedRequest is the canonical serialized form behind ConfigHash. Maps
// serialize with sorted keys; the column slices keep their request order,
// because that order fixes the table's header, enumeration and row order —
// reordering the columns is a different run and must hash differently.
type hashedRequest struct {
	SelectedColumns []string                    `json:"selected_columns"`
	Thresholds      map[string]threshold.Config `json:"thresholds"`
	IDColumn        string                      `json:"id_column"`
	ResultColumns   []string                    `json:"result_columns"`
	ColumnTypes     map[string]frame.Kind       `json:"column_types"`
	MinMatchingRows int                         `json:"min_matching_rows"`
}

// ConfigHash fingerprints a request together with the snapshot's column
// types. Two runs with the same hash are guaranteed to ask the same question
// of the same-shaped data, which is what makes cached results reusable.
func ConfigHash(req Request, types map[string]frame.Kind) (string, error) {
	h := hashedRequest{
		SelectedColumns: req.SelectedColumns,
		Thresholds:      req.Thresholds,
		IDColumn:        req.IDColumn,
		ResultColumns:   req.ResultColumns,
		ColumnTypes:     types,
		MinMatchingRows: req.MinMatchingRows,
	}

	raw, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("analysis: hash config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
