package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/logger"
	"github.com/NamanBalaji/prepfetch/internal/plan"
)

const (
	ledgerBucket   = "ledger"
	metadataBucket = "metadata"
	schemaVersion  = 1

	keyResource   = "resource"
	keyChunkSize  = "chunk_size"
	keyChunkCount = "chunk_count"
	keyCompleted  = "completed"
	keyCreatedAt  = "created_at"
	keyUpdatedAt  = "updated_at"
	keySchema     = "schema_version"
)

var (
	ErrOrdinalOutOfRange = errors.New("chunk ordinal out of range")
	ErrStoreClosed       = errors.New("ledger store is closed")
)

// Store is the bbolt database backing one destination's ledger. The database
// file lock is held for the lifetime of the store, so at most one attempt can
// own a destination at a time.
type Store struct {
	db        *bbolt.DB
	path      string
	recovered error
}

// Open acquires the ledger at path, creating it if needed. It fails with a
// concurrency conflict if another attempt holds the file for longer than
// lockTimeout. An unreadable file is replaced with an empty ledger.
func Open(path string, lockTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewIOError(fmt.Errorf("failed to create ledger directory: %w", err), path)
	}

	s := &Store{path: path}

	db, err := s.open(lockTimeout)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, errors.NewConcurrencyConflict(err, path)
		}

		if os.IsPermission(err) {
			return nil, errors.NewIOError(err, path)
		}

		s.markRecovered(err)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.NewIOError(fmt.Errorf("failed to remove unreadable ledger: %w", rmErr), path)
		}

		db, err = s.open(lockTimeout)
		if err != nil {
			if errors.Is(err, bbolt.ErrTimeout) {
				return nil, errors.NewConcurrencyConflict(err, path)
			}

			return nil, errors.NewIOError(fmt.Errorf("failed to open database: %w", err), path)
		}
	}

	s.db = db

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, errors.NewIOError(err, path)
	}

	return s, nil
}

func (s *Store) open(lockTimeout time.Duration) (*bbolt.DB, error) {
	options := &bbolt.Options{
		Timeout: lockTimeout,
	}

	return bbolt.Open(s.path, 0o600, options)
}

func (s *Store) markRecovered(cause error) {
	s.recovered = errors.NewLedgerCorruption(cause, s.path)
	logger.Warnf("Discarding unreadable ledger, progress starts over: %v", s.recovered)
}

// initialize sets up buckets and schema
func (s *Store) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ledgerBucket))
		if err != nil {
			return fmt.Errorf("failed to create ledger bucket: %w", err)
		}

		metadataBucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		if metadataBucket.Get([]byte(keySchema)) != nil {
			return nil
		}

		versionBytes := []byte(strconv.Itoa(schemaVersion))
		err = metadataBucket.Put([]byte(keySchema), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// Recovered reports whether an unreadable ledger was discarded while opening or loading.
func (s *Store) Recovered() bool {
	return s.recovered != nil
}

// RecoveryError returns the corruption that caused the ledger to be discarded, if any.
func (s *Store) RecoveryError() error {
	return s.recovered
}

// Load returns the persisted ledger, or an empty one if nothing was recorded.
// Unparseable contents are wiped and reported through Recovered.
func (s *Store) Load() (*Ledger, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	l, err := s.read()
	if err == nil {
		return l, nil
	}

	s.markRecovered(err)

	if err := s.wipe(); err != nil {
		return nil, errors.NewIOError(err, s.path)
	}

	if err := s.initialize(); err != nil {
		return nil, errors.NewIOError(err, s.path)
	}

	return &Ledger{Completed: roaring.New()}, nil
}

func (s *Store) read() (*Ledger, error) {
	l := &Ledger{Completed: roaring.New()}

	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metadataBucket))
		if meta == nil {
			return fmt.Errorf("bucket not found: %s", metadataBucket)
		}

		if v := string(meta.Get([]byte(keySchema))); v != strconv.Itoa(schemaVersion) {
			return fmt.Errorf("unsupported schema version %q", v)
		}

		bucket := tx.Bucket([]byte(ledgerBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", ledgerBucket)
		}

		data := bucket.Get([]byte(keyResource))
		if data == nil {
			return nil
		}

		if err := json.Unmarshal(data, &l.Resource); err != nil {
			return fmt.Errorf("failed to unmarshal resource: %w", err)
		}

		chunkSize, err := strconv.ParseInt(string(bucket.Get([]byte(keyChunkSize))), 10, 64)
		if err != nil || chunkSize <= 0 {
			return fmt.Errorf("invalid chunk size %q", bucket.Get([]byte(keyChunkSize)))
		}

		chunkCount, err := strconv.Atoi(string(bucket.Get([]byte(keyChunkCount))))
		if err != nil || chunkCount <= 0 {
			return fmt.Errorf("invalid chunk count %q", bucket.Get([]byte(keyChunkCount)))
		}

		if completed := bucket.Get([]byte(keyCompleted)); len(completed) > 0 {
			if err := l.Completed.UnmarshalBinary(completed); err != nil {
				return fmt.Errorf("failed to decode completed chunks: %w", err)
			}
		}

		if !l.Completed.IsEmpty() && int(l.Completed.Maximum()) >= chunkCount {
			return fmt.Errorf("%w: %d >= %d", ErrOrdinalOutOfRange, l.Completed.Maximum(), chunkCount)
		}

		if err := l.CreatedAt.UnmarshalText(bucket.Get([]byte(keyCreatedAt))); err != nil {
			return fmt.Errorf("invalid created_at: %w", err)
		}

		if err := l.UpdatedAt.UnmarshalText(bucket.Get([]byte(keyUpdatedAt))); err != nil {
			return fmt.Errorf("invalid updated_at: %w", err)
		}

		l.ChunkSize = chunkSize
		l.ChunkCount = chunkCount

		return nil
	})

	return l, err
}

func (s *Store) wipe() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{ledgerBucket, metadataBucket} {
			if tx.Bucket([]byte(name)) == nil {
				continue
			}

			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("failed to delete %s bucket: %w", name, err)
			}
		}

		return nil
	})
}

// Reset discards recorded progress and binds the ledger to a new resource snapshot.
func (s *Store) Reset(resource common.RemoteResource, chunkSize int64) (*Ledger, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	p, err := plan.New(resource, chunkSize)
	if err != nil {
		return nil, err
	}

	l := newLedger(resource, chunkSize, p.Count())

	resourceData, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	completed, err := l.Completed.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode completed chunks: %w", err)
	}

	createdAt, _ := l.CreatedAt.MarshalText()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(ledgerBucket)) == nil || tx.Bucket([]byte(metadataBucket)) == nil {
			return fmt.Errorf("ledger buckets missing")
		}

		bucket := tx.Bucket([]byte(ledgerBucket))
		entries := map[string][]byte{
			keyResource:   resourceData,
			keyChunkSize:  []byte(strconv.FormatInt(chunkSize, 10)),
			keyChunkCount: []byte(strconv.Itoa(l.ChunkCount)),
			keyCompleted:  completed,
			keyCreatedAt:  createdAt,
			keyUpdatedAt:  createdAt,
		}

		for k, v := range entries {
			if err := bucket.Put([]byte(k), v); err != nil {
				return fmt.Errorf("failed to store %s: %w", k, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(err, s.path)
	}

	return l, nil
}

// RecordChunkComplete adds ordinals to the ledger in one durable transaction.
// The in-memory ledger only changes once the commit succeeded.
func (s *Store) RecordChunkComplete(l *Ledger, ordinals ...int) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	if len(ordinals) == 0 {
		return nil
	}

	next := l.Completed.Clone()

	for _, o := range ordinals {
		if o < 0 || o >= l.ChunkCount {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrOrdinalOutOfRange, o, l.ChunkCount)
		}

		next.Add(uint32(o))
	}

	next.RunOptimize()

	completed, err := next.ToBytes()
	if err != nil {
		return fmt.Errorf("failed to encode completed chunks: %w", err)
	}

	now := time.Now().UTC()
	updatedAt, _ := now.MarshalText()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ledgerBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", ledgerBucket)
		}

		if err := bucket.Put([]byte(keyCompleted), completed); err != nil {
			return fmt.Errorf("failed to store completed chunks: %w", err)
		}

		return bucket.Put([]byte(keyUpdatedAt), updatedAt)
	})
	if err != nil {
		return errors.NewIOError(err, s.path)
	}

	l.Completed = next
	l.UpdatedAt = now

	return nil
}

// Close releases the database and its lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}

// Clear deletes the ledger file at path. A missing file is not an error.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(fmt.Errorf("failed to remove ledger: %w", err), path)
	}

	return nil
}
