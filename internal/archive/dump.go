package archive

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DumpFile writes a gzip-compressed SQL text dump of the database at dbPath.
func DumpFile(ctx context.Context, dbPath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return fmt.Errorf("open database for dump: %w", err)
	}
	defer db.Close()

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		f.Close()
		return fmt.Errorf("create gzip writer: %w", err)
	}
	bw := bufio.NewWriter(zw)

	if err := Dump(ctx, db, bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush dump: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close gzip stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync dump file: %w", err)
	}
	return f.Close()
}

type schemaObject struct {
	kind string
	name string
	sql  string
}

// Dump writes the schema and rows of every user table as SQL statements.
// Tables come first so that indexes, triggers and views apply to loaded data.
func Dump(ctx context.Context, db *sql.DB, w io.Writer) error {
	rows, err := db.QueryContext(ctx,
		`SELECT type, name, sql FROM sqlite_master
		 WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		 ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	var objects []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.kind, &o.name, &o.sql); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema: %w", err)
		}
		objects = append(objects, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	if _, err := io.WriteString(w, "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\n"); err != nil {
		return err
	}
	for _, o := range objects {
		if _, err := fmt.Fprintf(w, "%s;\n", o.sql); err != nil {
			return err
		}
		if o.kind == "table" {
			if err := dumpTable(ctx, db, w, o.name); err != nil {
				return err
			}
		}
	}
	_, err = io.WriteString(w, "COMMIT;\n")
	return err
}

func dumpTable(ctx context.Context, db *sql.DB, w io.Writer, table string) error {
	ident := quoteIdent(table)
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return fmt.Errorf("read table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", table, err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var sb strings.Builder
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row of %s: %w", table, err)
		}
		sb.Reset()
		sb.WriteString("INSERT INTO ")
		sb.WriteString(ident)
		sb.WriteString(" VALUES(")
		for i, v := range values {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(sqlLiteral(v))
		}
		sb.WriteString(");\n")
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case time.Time:
		return quoteString(x.Format(time.RFC3339Nano))
	case string:
		return quoteString(x)
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
