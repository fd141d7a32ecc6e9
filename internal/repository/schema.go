package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Dialect SQL方言
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 解析方言名
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(name)); d {
	case DialectMySQL, DialectPostgres, DialectSQLite:
		return d, nil
	case "postgresql":
		return DialectPostgres, nil
	case "sqlite3":
		return DialectSQLite, nil
	default:
		return "", errors.Errorf("不支持的数据库方言: %s", name)
	}
}

// rebind 把 ? 占位符改写为方言的占位符
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (d Dialect) upsertVote() string {
	const insert = `INSERT INTO vote_value (locale, xpath, submitter, value, last_value, vote_override, permanent, vote_type, last_mod)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if d == DialectMySQL {
		return insert + `
ON DUPLICATE KEY UPDATE value = VALUES(value), last_value = COALESCE(VALUES(value), last_value),
vote_override = VALUES(vote_override), permanent = VALUES(permanent), vote_type = VALUES(vote_type), last_mod = VALUES(last_mod)`
	}
	return insert + `
ON CONFLICT (locale, xpath, submitter) DO UPDATE SET value = excluded.value,
last_value = COALESCE(excluded.value, vote_value.last_value), vote_override = excluded.vote_override,
permanent = excluded.permanent, vote_type = excluded.vote_type, last_mod = excluded.last_mod`
}

func (d Dialect) upsertLock() string {
	const insert = `INSERT INTO locked_xpaths (locale, xpath, value, last_mod) VALUES (?, ?, ?, ?)`
	if d == DialectMySQL {
		return insert + ` ON DUPLICATE KEY UPDATE value = VALUES(value), last_mod = VALUES(last_mod)`
	}
	return insert + ` ON CONFLICT (locale, xpath) DO UPDATE SET value = excluded.value, last_mod = excluded.last_mod`
}

func (d Dialect) upsertVoter() string {
	const insert = `INSERT INTO cldr_users (id, name, email, org, org_tc, userlevel, locales) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if d == DialectMySQL {
		return insert + ` ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email), org = VALUES(org),
org_tc = VALUES(org_tc), userlevel = VALUES(userlevel), locales = VALUES(locales)`
	}
	return insert + ` ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, org = excluded.org,
org_tc = excluded.org_tc, userlevel = excluded.userlevel, locales = excluded.locales`
}

func (d Dialect) schema() []string {
	pathType, timeType := "TEXT", "TIMESTAMP"
	switch d {
	case DialectMySQL:
		pathType, timeType = "VARCHAR(512)", "DATETIME(6)"
	case DialectPostgres:
		timeType = "TIMESTAMPTZ"
	}
	localeType := "VARCHAR(32)"
	return []string{
		`CREATE TABLE IF NOT EXISTS vote_value (
    locale ` + localeType + ` NOT NULL,
    xpath ` + pathType + ` NOT NULL,
    submitter INT NOT NULL,
    value TEXT,
    last_value TEXT,
    vote_override INT,
    permanent BOOLEAN NOT NULL DEFAULT FALSE,
    vote_type INT NOT NULL DEFAULT 0,
    last_mod ` + timeType + ` NOT NULL,
    PRIMARY KEY (locale, xpath, submitter)
)`,
		`CREATE TABLE IF NOT EXISTS locked_xpaths (
    locale ` + localeType + ` NOT NULL,
    xpath ` + pathType + ` NOT NULL,
    value TEXT NOT NULL,
    last_mod ` + timeType + ` NOT NULL,
    PRIMARY KEY (locale, xpath)
)`,
		`CREATE TABLE IF NOT EXISTS cldr_users (
    id INT PRIMARY KEY,
    name VARCHAR(128) NOT NULL,
    email VARCHAR(256) NOT NULL DEFAULT '',
    org VARCHAR(128) NOT NULL,
    org_tc BOOLEAN NOT NULL DEFAULT FALSE,
    userlevel INT NOT NULL,
    locales TEXT
)`,
	}
}

// CreateSchema 创建所需的表，可重复调用
func CreateSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "创建表结构失败")
		}
	}
	return nil
}
