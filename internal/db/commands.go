package db

import (
	"context"
	"fmt"
	"time"
)

// CommandRecord is one audited operator or drive command.
type CommandRecord struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordCommand appends to the command audit log.
func (db *DB) RecordCommand(ctx context.Context, source, command string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO commands (source, command, ts_unix_nanos) VALUES (?, ?, ?)`,
		source, command, at.UnixNano())
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// Commands returns up to limit commands, newest first.
func (db *DB) Commands(ctx context.Context, limit int) ([]CommandRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT command_id, source, command, ts_unix_nanos FROM commands
		ORDER BY command_id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			c     CommandRecord
			nanos int64
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Command, &nanos); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
