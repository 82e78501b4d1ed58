package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

type DBMetrics struct {
	PutCount     int64 `json:"put_count"`
	GetCount     int64 `json:"get_count"`
	DeleteCount  int64 `json:"delete_count"`
	IterateCount int64 `json:"iterate_count"`
	BatchCount   int64 `json:"batch_count"`
	Errors       int64 `json:"errors"`
}

// DBStorage is the durable ledger store backed by BadgerDB.
type DBStorage struct {
	db      *badger.DB
	mu      sync.Mutex
	config  BadgerDBConfig
	metrics DBMetrics
	logger  log.Logger
	stopGC  chan struct{}
	closed  sync.Once
}

var (
	// Map of chainID -> DBStorage
	instances = make(map[string]*DBStorage)
	mu        sync.RWMutex
)

// GetDBStorage returns the DB instance for the specified chain.
func GetDBStorage(dataDir, chainID string, logger log.Logger) (*DBStorage, error) {
	return GetDBStorageWithConfig(DefaultConfig(dataDir), chainID, logger)
}

// GetDBStorageWithConfig returns the DB instance for chainID, opening it with
// config on first use.
func GetDBStorageWithConfig(config BadgerDBConfig, chainID string, logger log.Logger) (*DBStorage, error) {
	mu.RLock()
	instance, exists := instances[chainID]
	mu.RUnlock()

	if exists {
		return instance, nil
	}

	mu.Lock()
	defer mu.Unlock()

	// Check again in case another goroutine created it while we were waiting
	instance, exists = instances[chainID]
	if exists {
		return instance, nil
	}

	dbPath := filepath.Join(config.DataDir, "badgerdb", chainID)
	instance, err := NewDBStorage(dbPath, config, logger)
	if err != nil {
		return nil, err
	}

	instances[chainID] = instance
	return instance, nil
}

// NewDBStorage opens a standalone BadgerDB store. In-memory configs ignore
// dbPath.
func NewDBStorage(dbPath string, config BadgerDBConfig, logger log.Logger) (*DBStorage, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	opts := badger.DefaultOptions(dbPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if config.DisableLogging {
		opts = opts.WithLogger(nil)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &DBStorage{
		db:     db,
		config: config,
		logger: logger.With("module", "storage"),
		stopGC: make(chan struct{}),
	}

	if config.GCInterval > 0 && !config.InMemory {
		go s.startGCRoutine(time.Duration(config.GCInterval) * time.Second)
	}
	return s, nil
}

func (s *DBStorage) startGCRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunGC(); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Error("BadgerDB GC failed", "err", err)
			}
		case <-s.stopGC:
			return
		}
	}
}

func (s *DBStorage) recordMetric(name string) {
	switch name {
	case "put":
		atomic.AddInt64(&s.metrics.PutCount, 1)
	case "get":
		atomic.AddInt64(&s.metrics.GetCount, 1)
	case "delete":
		atomic.AddInt64(&s.metrics.DeleteCount, 1)
	case "iterate":
		atomic.AddInt64(&s.metrics.IterateCount, 1)
	case "batch":
		atomic.AddInt64(&s.metrics.BatchCount, 1)
	}
}

func (s *DBStorage) logOperation(op string, key string, err error) {
	if err != nil {
		s.logger.Error("BadgerDB operation failed", "op", op, "key", key, "err", err)
		atomic.AddInt64(&s.metrics.Errors, 1)
	}
}

// Metrics returns a snapshot of the operation counters.
func (s *DBStorage) Metrics() DBMetrics {
	return DBMetrics{
		PutCount:     atomic.LoadInt64(&s.metrics.PutCount),
		GetCount:     atomic.LoadInt64(&s.metrics.GetCount),
		DeleteCount:  atomic.LoadInt64(&s.metrics.DeleteCount),
		IterateCount: atomic.LoadInt64(&s.metrics.IterateCount),
		BatchCount:   atomic.LoadInt64(&s.metrics.BatchCount),
		Errors:       atomic.LoadInt64(&s.metrics.Errors),
	}
}

// Close stops the GC routine and closes the database.
func (s *DBStorage) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stopGC)
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

// CloseAll closes all registered BadgerDB instances.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()

	for _, instance := range instances {
		instance.Close()
	}
	instances = make(map[string]*DBStorage)
}

// Put stores a key-value pair in the database
func (s *DBStorage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordMetric("put")
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	s.logOperation("put", key, err)
	return err
}

// Get retrieves a value by key; an absent key yields a nil value.
func (s *DBStorage) Get(key string) ([]byte, error) {
	s.recordMetric("get")

	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		s.logOperation("get", key, err)
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return valCopy, nil
}

// Delete removes a key-value pair from the database
func (s *DBStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordMetric("delete")
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	s.logOperation("delete", key, err)
	return err
}

// Iterate walks every pair under prefix in key order.
func (s *DBStorage) Iterate(prefix string, fn func(key string, value []byte) error) error {
	s.recordMetric("iterate")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			// Copy the key and value since they are only valid during this transaction
			key := string(item.KeyCopy(nil))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, ErrStopIteration) {
		return nil
	}
	if err != nil {
		s.logOperation("iterate", prefix, err)
		return fmt.Errorf("failed to iterate prefix %q: %w", prefix, err)
	}
	return nil
}

// WriteBatch applies puts and deletes in a single badger transaction, so a
// committed block is either fully on disk or not at all. A batch too big for
// one transaction is split across badger's WriteBatch instead; callers that
// need a commit marker write it after this returns.
func (s *DBStorage) WriteBatch(puts map[string][]byte, deletes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordMetric("batch")
	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range puts {
			if err := txn.Set([]byte(k), v); err != nil {
				return fmt.Errorf("failed to set key %s: %w", k, err)
			}
		}
		for _, k := range deletes {
			if err := txn.Delete([]byte(k)); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", k, err)
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		s.logger.Info("Batch exceeds one transaction, splitting", "puts", len(puts), "deletes", len(deletes))
		err = s.splitBatch(puts, deletes)
	}
	s.logOperation("batch", fmt.Sprintf("%d puts, %d deletes", len(puts), len(deletes)), err)
	return err
}

// splitBatch lets badger cut the writes into as many transactions as needed.
func (s *DBStorage) splitBatch(puts map[string][]byte, deletes []string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range puts {
		if err := wb.Set([]byte(k), v); err != nil {
			return fmt.Errorf("failed to set key %s: %w", k, err)
		}
	}
	for _, k := range deletes {
		if err := wb.Delete([]byte(k)); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", k, err)
		}
	}
	return wb.Flush()
}

// RunGC runs value log garbage collection on the database
func (s *DBStorage) RunGC() error {
	return s.db.RunValueLogGC(0.5) // Clean up if at least 50% can be discarded
}
