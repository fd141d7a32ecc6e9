package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLStore 基于关系数据库的投票、锁定与投票人存储
// 裁决相关的读取全部走主库，从库只用于locale级的批量读取
type SQLStore struct {
	dialect  Dialect
	masterDB *sql.DB
	slaveDB  *sql.DB
	logger   *zap.Logger
}

func openDB(d Dialect, dsn string) (*sql.DB, error) {
	switch d {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "解析MySQL DSN失败")
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "创建MySQL连接器失败")
		}
		return sql.OpenDB(connector), nil
	case DialectPostgres:
		return sql.Open("postgres", dsn)
	default:
		return sql.Open("sqlite", dsn)
	}
}

func configurePool(db *sql.DB, d Dialect, cfg config.MySQLConfig) {
	if d == DialectSQLite {
		// sqlite单连接，内存库依赖连接不被回收
		db.SetMaxOpenConns(1)
		return
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
}

// NewSQLStore 连接主从库并创建表结构
func NewSQLStore(ctx context.Context, cfg config.MySQLConfig, logger *zap.Logger) (*SQLStore, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	masterDB, err := openDB(d, cfg.Master)
	if err != nil {
		return nil, errors.Wrap(err, "连接主数据库失败")
	}
	configurePool(masterDB, d, cfg)
	if err = masterDB.PingContext(ctx); err != nil {
		masterDB.Close()
		return nil, errors.Wrap(err, "主数据库连接测试失败")
	}

	slaveDB := masterDB
	if cfg.Slave != "" && d != DialectSQLite {
		slaveDB, err = openDB(d, cfg.Slave)
		if err != nil {
			masterDB.Close()
			return nil, errors.Wrap(err, "连接从数据库失败")
		}
		configurePool(slaveDB, d, cfg)
		if err = slaveDB.PingContext(ctx); err != nil {
			logger.Warn("从数据库连接测试失败，将使用主数据库代替", zap.Error(err))
			slaveDB.Close()
			slaveDB = masterDB
		}
	}

	if err := CreateSchema(ctx, masterDB, d); err != nil {
		masterDB.Close()
		return nil, err
	}

	return &SQLStore{
		dialect:  d,
		masterDB: masterDB,
		slaveDB:  slaveDB,
		logger:   logger,
	}, nil
}

// NewSQLStoreWithDB 使用已打开的连接，主从相同
func NewSQLStoreWithDB(ctx context.Context, db *sql.DB, d Dialect, logger *zap.Logger) (*SQLStore, error) {
	if err := CreateSchema(ctx, db, d); err != nil {
		return nil, err
	}
	return &SQLStore{dialect: d, masterDB: db, slaveDB: db, logger: logger}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

const voteColumns = `locale, xpath, submitter, value, last_value, vote_override, permanent, vote_type, last_mod`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVote(row rowScanner) (*model.Vote, error) {
	var (
		v         model.Vote
		value     sql.NullString
		lastValue sql.NullString
		override  sql.NullInt64
		voteType  int
	)
	if err := row.Scan(&v.Locale, &v.Path, &v.VoterID, &value, &lastValue, &override, &v.Permanent, &voteType, &v.ModTime); err != nil {
		return nil, err
	}
	if value.Valid {
		v.Value = model.StringPtr(value.String)
	}
	if lastValue.Valid {
		v.LastValue = model.StringPtr(lastValue.String)
	}
	if override.Valid {
		v.Override = model.IntPtr(int(override.Int64))
	}
	v.Type = model.VoteType(voteType)
	v.ModTime = v.ModTime.UTC()
	return &v, nil
}

func (s *SQLStore) queryVotes(ctx context.Context, db *sql.DB, op, query string, args ...interface{}) ([]*model.Vote, error) {
	rows, err := db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return votes, nil
}

// PutVote 写入或替换投票
func (s *SQLStore) PutVote(ctx context.Context, v *model.Vote) error {
	_, err := s.masterDB.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertVote()),
		v.Locale, v.Path, v.VoterID, nullString(v.Value), nullString(v.Value), nullInt(v.Override), v.Permanent, int(v.Type), v.ModTime.UTC())
	return persistErr("写入投票", err)
}

// GetVote 获取投票人的当前投票
func (s *SQLStore) GetVote(ctx context.Context, locale, path string, voterID int) (*model.Vote, error) {
	query := `SELECT ` + voteColumns + ` FROM vote_value WHERE locale = ? AND xpath = ? AND submitter = ?`
	v, err := scanVote(s.masterDB.QueryRowContext(ctx, s.dialect.rebind(query), locale, path, voterID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistErr("读取投票", err)
	}
	return v, nil
}

// VotesForPath 获取路径上的全部投票
func (s *SQLStore) VotesForPath(ctx context.Context, locale, path string) ([]*model.Vote, error) {
	return s.queryVotes(ctx, s.masterDB, "读取路径投票",
		`SELECT `+voteColumns+` FROM vote_value WHERE locale = ? AND xpath = ? ORDER BY submitter`, locale, path)
}

// VotesForLocale 获取locale的全部投票（从库）
func (s *SQLStore) VotesForLocale(ctx context.Context, locale string) ([]*model.Vote, error) {
	return s.queryVotes(ctx, s.slaveDB, "读取locale投票",
		`SELECT `+voteColumns+` FROM vote_value WHERE locale = ? ORDER BY xpath, submitter`, locale)
}

// PermanentVoters 读取永久票的投票人（主库）
func (s *SQLStore) PermanentVoters(ctx context.Context, locale, path string, value *string) ([]int, error) {
	query := `SELECT submitter FROM vote_value WHERE locale = ? AND xpath = ? AND permanent = ? AND `
	args := []interface{}{locale, path, true}
	if value == nil {
		query += `value IS NULL`
	} else {
		query += `value = ?`
		args = append(args, *value)
	}
	query += ` ORDER BY submitter`

	rows, err := s.masterDB.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, persistErr("读取永久票", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("读取永久票", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("读取永久票", err)
	}
	return ids, nil
}

func scanLock(row rowScanner) (*model.LockEntry, error) {
	var l model.LockEntry
	if err := row.Scan(&l.Locale, &l.Path, &l.Value, &l.ModTime); err != nil {
		return nil, err
	}
	l.ModTime = l.ModTime.UTC()
	return &l, nil
}

// GetLock 获取路径的锁定记录
func (s *SQLStore) GetLock(ctx context.Context, locale, path string) (*model.LockEntry, error) {
	query := `SELECT locale, xpath, value, last_mod FROM locked_xpaths WHERE locale = ? AND xpath = ?`
	l, err := scanLock(s.masterDB.QueryRowContext(ctx, s.dialect.rebind(query), locale, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistErr("读取锁定", err)
	}
	return l, nil
}

// LocksForLocale 获取locale的全部锁定（从库）
func (s *SQLStore) LocksForLocale(ctx context.Context, locale string) ([]*model.LockEntry, error) {
	query := `SELECT locale, xpath, value, last_mod FROM locked_xpaths WHERE locale = ? ORDER BY xpath`
	rows, err := s.slaveDB.QueryContext(ctx, s.dialect.rebind(query), locale)
	if err != nil {
		return nil, persistErr("读取锁定", err)
	}
	defer rows.Close()

	var locks []*model.LockEntry
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, persistErr("读取锁定", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("读取锁定", err)
	}
	return locks, nil
}

// ApplyTransition 事务内完成锁定迁移与清场
func (s *SQLStore) ApplyTransition(ctx context.Context, t Transition) (int64, error) {
	tx, err := s.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("开始事务失败", err)
	}

	if t.Lock != nil {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertLock()),
			t.Locale, t.Path, t.Lock.Value, t.Lock.ModTime.UTC())
	} else {
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM locked_xpaths WHERE locale = ? AND xpath = ?`),
			t.Locale, t.Path)
	}
	if err != nil {
		tx.Rollback()
		return 0, persistErr("写入锁定失败", err)
	}

	var purged int64
	if t.CleanSlate {
		result, err := tx.ExecContext(ctx,
			s.dialect.rebind(`DELETE FROM vote_value WHERE locale = ? AND xpath = ? AND permanent = ?`),
			t.Locale, t.Path, true)
		if err != nil {
			tx.Rollback()
			return 0, persistErr("清除永久票失败", err)
		}
		purged, err = result.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, persistErr("获取清除结果失败", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr("提交事务失败", err)
	}
	return purged, nil
}

// PutVoter 新增或更新投票人
func (s *SQLStore) PutVoter(ctx context.Context, v *model.Voter) error {
	_, err := s.masterDB.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertVoter()),
		v.ID, v.Name, v.Email, v.Org.Name, v.Org.TC, int(v.Level), strings.Join(v.Locales, " "))
	return persistErr("写入投票人", err)
}

// GetVoter 查询投票人（从库）
func (s *SQLStore) GetVoter(ctx context.Context, id int) (*model.Voter, error) {
	query := `SELECT id, name, email, org, org_tc, userlevel, locales FROM cldr_users WHERE id = ?`
	var (
		v       model.Voter
		level   int
		locales sql.NullString
	)
	err := s.slaveDB.QueryRowContext(ctx, s.dialect.rebind(query), id).
		Scan(&v.ID, &v.Name, &v.Email, &v.Org.Name, &v.Org.TC, &level, &locales)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(identity.ErrUnknownVoter, "id %d", id)
		}
		return nil, persistErr("读取投票人", err)
	}
	v.Level = model.Level(level)
	if locales.Valid {
		v.Locales = strings.Fields(locales.String)
	}
	return &v, nil
}

func (s *SQLStore) Close() error {
	if s.slaveDB != s.masterDB {
		if err := s.slaveDB.Close(); err != nil {
			s.logger.Warn("关闭从数据库失败", zap.Error(err))
		}
	}
	return s.masterDB.Close()
}
