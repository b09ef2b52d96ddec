package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// CSVHeader lists the export columns in order.
var CSVHeader = []string{
	"id", "performed_at", "action_type", "target_type", "target_id",
	"performed_by", "reason", "old_value", "new_value",
}

// WriteCSV serialises entries as CSV, header first.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.PerformedAt.UTC().Format(time.RFC3339Nano),
			string(e.ActionType),
			string(e.TargetType),
			e.TargetID,
			strconv.FormatInt(e.PerformedBy, 10),
			e.Reason,
			string(e.OldValue),
			string(e.NewValue),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
