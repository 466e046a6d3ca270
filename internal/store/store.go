package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	errs "schedq/internal/errors"
)

type store struct {
	mu sync.RWMutex

	logger *slog.Logger
	db     *bbolt.DB
	opts   *Opts
}

type Opts struct {
	Path   string
	Logger *slog.Logger
}

func NewStore(opts *Opts) (Store, error) {
	o := defaultOpts(opts)
	str := &store{
		opts:   o,
		logger: o.Logger,
	}
	return str, str.init()
}

func defaultOpts(o *Opts) *Opts {
	def := &Opts{
		Path:   "tasks.db",
		Logger: slog.Default(),
	}
	if o == nil {
		return def
	}
	if len(o.Path) > 0 {
		def.Path = o.Path
	}
	if o.Logger != nil {
		def.Logger = o.Logger
	}

	return def
}

func (s *store) init() error {
	db, err := bbolt.Open(s.opts.Path, 0600, &bbolt.Options{
		Timeout: time.Second * 1,
	})
	if err != nil {
		return err
	}
	s.db = db

	return nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.db = nil
	return nil
}

func (s *store) handle() (*bbolt.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db == nil {
		return nil, errs.NewErrUnavailable("store")
	}
	return db, nil
}

func bytes(str string) []byte {
	return []byte(str)
}

func (s *store) Put(t *Task) (id string, err error) {
	db, err := s.handle()
	if err != nil {
		return "", err
	}

	tx := func(tx *bbolt.Tx) error {
		id, err = s.put(tx, t)
		return err
	}

	if err := db.Update(tx); err != nil {
		return "", err
	}

	return id, nil
}

func (s *store) put(tx *bbolt.Tx, t *Task) (id string, err error) {
	bucket, err := tx.CreateBucketIfNotExists(bytes(BucketTasks))
	if err != nil {
		return "", fmt.Errorf("failed to initialize tasks bucket: %w", err)
	}

	if len(t.ID) > 0 {
		id = t.ID
	} else {
		id = uuid.NewString()
		t.ID = id
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	enc, err := Encode(t)
	if err != nil {
		return "", err
	}

	if err := bucket.Put(bytes(TaskKey(id)), enc); err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}

	return id, nil
}

func (s *store) Get(id string) (t *Task, err error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	err = db.View(func(tx *bbolt.Tx) error {
		t, err = s.get(tx, id)
		return err
	})

	return t, err
}

func (s *store) get(tx *bbolt.Tx, id string) (*Task, error) {
	bucket := tx.Bucket(bytes(BucketTasks))
	if bucket == nil {
		return nil, errs.NewErrNotFound("task")
	}

	data := bucket.Get(bytes(TaskKey(id)))
	if data == nil {
		return nil, errs.NewErrNotFound("task")
	}

	return Decode(data)
}

func (s *store) Update(id string, expectedVersion uint64, mutate func(*Task)) (t *Task, err error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	tx := func(tx *bbolt.Tx) error {
		t, err = s.update(tx, id, expectedVersion, mutate)
		return err
	}

	if err := db.Update(tx); err != nil {
		return nil, err
	}

	return t, nil
}

func (s *store) update(tx *bbolt.Tx, id string, expectedVersion uint64, mutate func(*Task)) (*Task, error) {
	bucket := tx.Bucket(bytes(BucketTasks))
	if bucket == nil {
		return nil, errs.NewErrNotFound("task")
	}

	key := TaskKey(id)
	dat := bucket.Get(bytes(key))
	if dat == nil {
		return nil, errs.NewErrNotFound("task")
	}

	t, err := Decode(dat)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}

	if t.Version != expectedVersion {
		return nil, errs.NewErrConflict("task")
	}

	mutate(t)

	t.Version += 1
	t.UpdatedAt = time.Now()

	enc, err := Encode(t)
	if err != nil {
		return nil, err
	}

	if err := bucket.Put(bytes(key), enc); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	return t, nil
}

func (s *store) Scan(pred func(*Task) bool) (tasks []*Task, err error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	err = db.View(func(tx *bbolt.Tx) error {
		tasks, err = s.scan(tx, pred)
		return err
	})

	return tasks, err
}

func (s *store) scan(tx *bbolt.Tx, pred func(*Task) bool) ([]*Task, error) {
	bucket := tx.Bucket(bytes(BucketTasks))
	if bucket == nil {
		return nil, nil
	}

	var list []*Task

	cur := bucket.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		t, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}

		if pred != nil && !pred(t) {
			continue
		}

		list = append(list, t)
	}

	return list, nil
}

func (s *store) List(skip uint64, limit uint64) (tasks []Task, err error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	err = db.View(func(tx *bbolt.Tx) error {
		tasks, err = s.list(tx, skip, limit)
		return err
	})

	return tasks, err
}

func (s *store) list(tx *bbolt.Tx, skip, limit uint64) ([]Task, error) {
	bucket := tx.Bucket(bytes(BucketTasks))
	if bucket == nil {
		return nil, nil
	}

	var list []Task

	if limit == 0 {
		return list, nil
	}

	cur := bucket.Cursor()

	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		if skip > 0 {
			skip -= 1
			continue
		}

		limit -= 1
		t, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}

		list = append(list, *t)
		if limit == 0 {
			break
		}
	}

	return list, nil
}
