package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DriverChecker runs PRAGMA integrity_check in-process through the SQLite
// driver, for hosts without the sqlite3 command line tool.
type DriverChecker struct {
	Timeout time.Duration
}

func NewDriverChecker(timeout time.Duration) *DriverChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DriverChecker{Timeout: timeout}
}

func (c *DriverChecker) Check(ctx context.Context, dbPath string) (Result, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProcess, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return Result{}, fmt.Errorf("%w: open %s: %w", ErrProcess, dbPath, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		if corrupt(err) {
			return Result{OK: false, Output: err.Error()}, nil
		}
		return Result{}, fmt.Errorf("%w: %w", ErrProcess, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return Result{}, fmt.Errorf("%w: scan: %w", ErrProcess, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		if corrupt(err) {
			return Result{OK: false, Output: err.Error()}, nil
		}
		return Result{}, fmt.Errorf("%w: %w", ErrProcess, err)
	}

	output := strings.TrimSpace(strings.Join(lines, "\n"))
	return Result{OK: output == okOutput, Output: output}, nil
}

// corrupt reports whether a driver error means the file was read and found
// damaged, as opposed to the check being unable to start.
func corrupt(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "corrupt")
}
