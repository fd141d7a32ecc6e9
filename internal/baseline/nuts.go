package baseline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nutsdb/nutsdb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	nutsBucket   = "baseline"
	localesIndex = "__locales__"
)

// NutsStore 以nutsdb持久化的基线数据源，每个locale一条记录
// 读取时解码为不可变快照并缓存在内存中
type NutsStore struct {
	db     *nutsdb.DB
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

func NewNutsStore(dir string, logger *zap.Logger) (*NutsStore, error) {
	db, err := nutsdb.Open(nutsdb.DefaultOptions, nutsdb.WithDir(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "打开基线存储 %s 失败", dir)
	}
	if err := db.Update(func(tx *nutsdb.Tx) error {
		if tx.ExistBucket(nutsdb.DataStructureBTree, nutsBucket) {
			return nil
		}
		return tx.NewBucket(nutsdb.DataStructureBTree, nutsBucket)
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "创建基线bucket失败")
	}
	return &NutsStore{
		db:     db,
		logger: logger,
		cache:  make(map[string]*Snapshot),
	}, nil
}

// Import 写入(覆盖)一个locale的快照
func (n *NutsStore) Import(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s.Entries())
	if err != nil {
		return errors.Wrap(err, "序列化基线失败")
	}

	locales, err := n.Locales(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, l := range locales {
		if l == s.Locale() {
			found = true
			break
		}
	}
	if !found {
		locales = append(locales, s.Locale())
		sort.Strings(locales)
	}
	index, err := json.Marshal(locales)
	if err != nil {
		return errors.Wrap(err, "序列化locale索引失败")
	}

	if err := n.db.Update(func(tx *nutsdb.Tx) error {
		if err := tx.Put(nutsBucket, []byte(s.Locale()), data, 0); err != nil {
			return err
		}
		return tx.Put(nutsBucket, []byte(localesIndex), index, 0)
	}); err != nil {
		return errors.Wrapf(err, "写入基线 %s 失败", s.Locale())
	}

	n.mu.Lock()
	delete(n.cache, s.Locale())
	n.mu.Unlock()
	n.logger.Info("基线已导入", zap.String("locale", s.Locale()), zap.Int("paths", s.Len()))
	return nil
}

func (n *NutsStore) get(key string) ([]byte, error) {
	var val []byte
	err := n.db.View(func(tx *nutsdb.Tx) error {
		v, err := tx.Get(nutsBucket, []byte(key))
		if err != nil {
			return err
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

func (n *NutsStore) Snapshot(_ context.Context, locale string) (*Snapshot, error) {
	n.mu.RLock()
	s, ok := n.cache[locale]
	n.mu.RUnlock()
	if ok {
		return s, nil
	}

	data, err := n.get(locale)
	if errors.Is(err, nutsdb.ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrUnknownLocale, "locale %s", locale)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "读取基线 %s 失败", locale)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "解析基线 %s 失败", locale)
	}
	s = NewSnapshot(locale, entries)

	n.mu.Lock()
	n.cache[locale] = s
	n.mu.Unlock()
	return s, nil
}

func (n *NutsStore) Locales(_ context.Context) ([]string, error) {
	data, err := n.get(localesIndex)
	if errors.Is(err, nutsdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "读取locale索引失败")
	}
	var locales []string
	if err := json.Unmarshal(data, &locales); err != nil {
		return nil, errors.Wrap(err, "解析locale索引失败")
	}
	return locales, nil
}

func (n *NutsStore) Close() error {
	return n.db.Close()
}
