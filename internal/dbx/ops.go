// internal/dbx/ops.go
package dbx

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"sessionbridge-service/internal/pkg/xerrors"
)

// SchemaInfo is the metadata surface of a DB session, returned by the
// get-schema-info operation.
type SchemaInfo struct {
	Engine        string `json:"engine"`
	Driver        string `json:"driver"`
	ServerVersion string `json:"serverVersion"`
	CurrentUser   string `json:"currentUser"`
	URL           string `json:"url"`
	TableCount    int    `json:"tableCount"`
}

// QueryResult is the outcome of ExecuteSQL: either a result set (columns +
// rows) or a rows-affected count.
type QueryResult struct {
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	RowsAffected int64           `json:"rowsAffected"`
	DurationMs   int64           `json:"durationMs"`
}

// GetSchemaInfo collects version, user and table-count metadata from the
// session's connection via engine-specific queries.
func GetSchemaInfo(ctx context.Context, w *Wrapper) (SchemaInfo, error) {
	info := SchemaInfo{
		Engine: string(w.Engine()),
		Driver: w.Driver(),
		URL:    w.RedactedDSN(),
	}

	versionQ, userQ, tablesQ := introspectionQueries(w.Engine())

	if err := w.DB().QueryRowContext(ctx, versionQ).Scan(&info.ServerVersion); err != nil {
		return SchemaInfo{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("query server version: %v", err))
	}
	if err := w.DB().QueryRowContext(ctx, userQ).Scan(&info.CurrentUser); err != nil {
		return SchemaInfo{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("query current user: %v", err))
	}
	if err := w.DB().QueryRowContext(ctx, tablesQ).Scan(&info.TableCount); err != nil {
		return SchemaInfo{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("count tables: %v", err))
	}

	w.Touch()
	return info, nil
}

func introspectionQueries(engine Engine) (version, user, tables string) {
	switch engine {
	case EnginePostgres:
		return "SELECT version()",
			"SELECT current_user",
			"SELECT count(*) FROM information_schema.tables WHERE table_schema NOT IN ('pg_catalog','information_schema')"
	case EngineMySQL, EngineMariaDB:
		return "SELECT version()",
			"SELECT current_user()",
			"SELECT count(*) FROM information_schema.tables WHERE table_schema = database()"
	case EngineSQLServer:
		return "SELECT @@VERSION",
			"SELECT SUSER_NAME()",
			"SELECT count(*) FROM information_schema.tables"
	}
	return "", "", ""
}

// TestConnection is the liveness probe exposed as an operation.
func TestConnection(ctx context.Context, w *Wrapper) bool {
	ok := w.IsValid(ctx)
	if ok {
		w.Touch()
	}
	return ok
}

// Statement verbs rejected in read-only mode.
var mutatingVerbs = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "TRUNCATE",
	"CREATE", "ALTER", "DROP", "GRANT", "REVOKE",
}

// ExecuteSQL runs a statement on the session's connection. In read-only mode
// mutating statements are rejected before touching the wire. Statements that
// return rows produce columns + rows; everything else produces rows-affected.
func ExecuteSQL(ctx context.Context, w *Wrapper, query string, readOnly bool) (QueryResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return QueryResult{}, xerrors.Wrap(xerrors.ErrInvalidInput, "empty query")
	}

	if readOnly {
		if verb, found := findMutatingVerb(trimmed); found {
			return QueryResult{}, xerrors.Wrap(xerrors.ErrInvalidInput,
				fmt.Sprintf("statement %q not allowed in read-only mode", verb))
		}
	}

	start := time.Now()

	if isRowReturning(trimmed) {
		rows, err := w.DB().QueryContext(ctx, trimmed)
		if err != nil {
			return QueryResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("query failed: %v", err))
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return QueryResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("read columns: %v", err))
		}

		var out [][]interface{}
		for rows.Next() {
			vals := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return QueryResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
					fmt.Sprintf("scan row: %v", err))
			}
			for i, v := range vals {
				if b, ok := v.([]byte); ok {
					vals[i] = string(b)
				}
			}
			out = append(out, vals)
		}
		if err := rows.Err(); err != nil {
			return QueryResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("read rows: %v", err))
		}

		w.Touch()
		return QueryResult{
			Columns:      cols,
			Rows:         out,
			RowsAffected: int64(len(out)),
			DurationMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	res, err := w.DB().ExecContext(ctx, trimmed)
	if err != nil {
		return QueryResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("exec failed: %v", err))
	}
	affected, _ := res.RowsAffected()

	w.Touch()
	return QueryResult{
		RowsAffected: affected,
		DurationMs:   time.Since(start).Milliseconds(),
	}, nil
}

// findMutatingVerb scans every word of the query after stripping comments
// and string literals, so DML hidden inside a WITH clause, behind a leading
// comment, or in a second statement cannot slip past read-only mode. The
// check is conservative: a bare identifier that equals a verb keyword is
// rejected too.
func findMutatingVerb(query string) (string, bool) {
	for _, word := range strings.FieldsFunc(stripSQLNoise(query), isSQLSeparator) {
		upper := strings.ToUpper(word)
		for _, verb := range mutatingVerbs {
			if upper == verb {
				return verb, true
			}
		}
	}
	return "", false
}

func isSQLSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// stripSQLNoise blanks out line comments, block comments and single-quoted
// string literals.
func stripSQLNoise(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		switch {
		case strings.HasPrefix(query[i:], "--"):
			for i < len(query) && query[i] != '\n' {
				i++
			}
		case strings.HasPrefix(query[i:], "/*"):
			i += 2
			for i < len(query) && !strings.HasPrefix(query[i:], "*/") {
				i++
			}
			if i < len(query) {
				i += 2
			}
			b.WriteByte(' ')
		case query[i] == '\'':
			i++
			for i < len(query) {
				if query[i] == '\'' {
					if i+1 < len(query) && query[i+1] == '\'' {
						i += 2 // escaped quote inside the literal
						continue
					}
					i++
					break
				}
				i++
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(query[i])
			i++
		}
	}
	return b.String()
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}

func isRowReturning(q string) bool {
	switch strings.ToUpper(firstWord(q)) {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH":
		return true
	}
	return false
}
