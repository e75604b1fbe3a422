package history

import (
	"database/sql"
	"time"
)

const sessionColumns = "id, request_id, original_filename, input_path, reference, status, kind, message, output_path, total_shift_ms, iterations, final_offset_ms, created_at, updated_at, completed_at"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sess        Session
		reference   sql.NullInt64
		status      string
		kind        sql.NullString
		message     sql.NullString
		outputPath  sql.NullString
		finalOffset sql.NullInt64
		createdRaw  string
		updatedRaw  string
		completed   sql.NullString
	)
	if err := scanner.Scan(
		&sess.ID,
		&sess.RequestID,
		&sess.OriginalFilename,
		&sess.InputPath,
		&reference,
		&status,
		&kind,
		&message,
		&outputPath,
		&sess.TotalShiftMS,
		&sess.Iterations,
		&finalOffset,
		&createdRaw,
		&updatedRaw,
		&completed,
	); err != nil {
		return nil, err
	}
	sess.Reference = int(reference.Int64)
	sess.Status = Status(status)
	sess.Kind = kind.String
	sess.Message = message.String
	sess.OutputPath = outputPath.String
	if finalOffset.Valid {
		v := int(finalOffset.Int64)
		sess.FinalOffsetMS = &v
	}
	sess.CreatedAt = parseTime(createdRaw)
	sess.UpdatedAt = parseTime(updatedRaw)
	if completed.Valid {
		ts := parseTime(completed.String)
		sess.CompletedAt = &ts
	}
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}
