// internal/dbx/factory.go
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"sessionbridge-service/internal/access"
	"sessionbridge-service/internal/pkg/xerrors"
)

// Engine identifies a supported database engine.
type Engine string

const (
	EnginePostgres  Engine = "POSTGRESQL"
	EngineMySQL     Engine = "MYSQL"
	EngineMariaDB   Engine = "MARIADB"
	EngineSQLServer Engine = "SQLSERVER"
)

func ParseEngine(s string) (Engine, bool) {
	switch e := Engine(strings.ToUpper(s)); e {
	case EnginePostgres, EngineMySQL, EngineMariaDB, EngineSQLServer:
		return e, true
	}
	return "", false
}

func (e Engine) driverName() string {
	switch e {
	case EnginePostgres:
		return "pgx"
	case EngineMySQL, EngineMariaDB:
		return "mysql"
	case EngineSQLServer:
		return "sqlserver"
	}
	return ""
}

// Connect opens a SQL connection to the target described by params. Secret
// material is consumed here and not retained.
func Connect(ctx context.Context, params access.ConnectionParams, material access.SecretMaterial,
	loginTimeout time.Duration) (*Wrapper, error) {

	engine, ok := ParseEngine(params.Engine)
	if !ok {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput,
			fmt.Sprintf("unsupported database engine %q", params.Engine))
	}

	dsn, redacted := buildDSN(engine, params, material.Password, loginTimeout)

	db, err := sql.Open(engine.driverName(), dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open %s connection: %v", engine, err))
	}

	// One logical connection per session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("connect to %s at %s:%d: %v", engine, params.Host, params.Port, err))
	}

	return newWrapper(db, engine, engine.driverName(), redacted), nil
}

// buildDSN assembles the engine-specific connection string. Parameter
// placement differs per engine: postgres and sqlserver take URL query
// parameters, mysql appends them after the database path. It returns the
// real DSN and a credential-free copy for diagnostics.
func buildDSN(engine Engine, params access.ConnectionParams, password string,
	loginTimeout time.Duration) (dsn, redacted string) {

	extra := sortedParams(params.ExtraParams)

	switch engine {
	case EnginePostgres:
		q := url.Values{}
		q.Set("connect_timeout", fmt.Sprintf("%d", int(loginTimeout.Seconds())))
		for _, kv := range extra {
			q.Set(kv[0], kv[1])
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     fmt.Sprintf("%s:%d", params.Host, params.Port),
			Path:     "/" + params.Database,
			RawQuery: q.Encode(),
		}
		u.User = url.UserPassword(params.RemoteUser, password)
		dsn = u.String()
		u.User = url.User(params.RemoteUser)
		redacted = u.String()

	case EngineMySQL, EngineMariaDB:
		q := url.Values{}
		q.Set("timeout", loginTimeout.String())
		for _, kv := range extra {
			q.Set(kv[0], kv[1])
		}
		tail := fmt.Sprintf("@tcp(%s:%d)/%s?%s", params.Host, params.Port, params.Database, q.Encode())
		dsn = params.RemoteUser + ":" + password + tail
		redacted = params.RemoteUser + tail

	case EngineSQLServer:
		props := []string{
			fmt.Sprintf("server=%s", params.Host),
			fmt.Sprintf("port=%d", params.Port),
			fmt.Sprintf("user id=%s", params.RemoteUser),
			fmt.Sprintf("password=%s", password),
			fmt.Sprintf("database=%s", params.Database),
			fmt.Sprintf("dial timeout=%d", int(loginTimeout.Seconds())),
		}
		for _, kv := range extra {
			props = append(props, kv[0]+"="+kv[1])
		}
		dsn = strings.Join(props, ";")
		redacted = strings.ReplaceAll(dsn, "password="+password, "password=***")
	}

	return dsn, redacted
}

func sortedParams(m map[string]string) [][2]string {
	out := make([][2]string, 0, len(m))
	for k, v := range m {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
