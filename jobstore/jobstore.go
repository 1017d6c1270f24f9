package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/earthlaws/terriajs/catalog"

	_ "github.com/lib/pq"
	"github.com/nci/gomemcache/memcache"
)

// Job is the gateway-side record of one Execute request. The item is
// attached once the remote execution reaches a terminal state.
type Job struct {
	ID         string        `json:"job_id"`
	NameSpace  string        `json:"namespace"`
	Identifier string        `json:"identifier"`
	Status     string        `json:"status"`
	Submitted  string        `json:"submitted"`
	Error      string        `json:"error,omitempty"`
	Item       *catalog.Item `json:"item,omitempty"`
}

const (
	JobAccepted  = "accepted"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Store keeps jobs in memory and optionally mirrors them into
// Postgres so they survive a gateway restart. Lookups consult
// memcached before hitting the database.
//
// Put stores a private snapshot and Get returns copies, so the
// goroutine driving a job keeps mutating its own instance while
// request handlers marshal the published one.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	db   *sql.DB
	mc   *memcache.Client
}

const jobCacheExpiry = 300

func NewStore(jobDB string, memcacheURI string) (*Store, error) {
	store := &Store{jobs: make(map[string]*Job)}

	if len(memcacheURI) > 0 {
		// lazy connection; errors returned in .Get
		store.mc = memcache.New(memcacheURI)
	}

	if len(jobDB) > 0 {
		db, err := sql.Open("postgres", jobDB)
		if err != nil {
			return nil, err
		}

		db.SetMaxIdleConns(8)
		db.SetMaxOpenConns(64)

		_, err = db.Exec(`create table if not exists wps_jobs (
			id text primary key,
			namespace text not null,
			identifier text not null,
			status text not null,
			submitted timestamptz not null,
			doc jsonb not null
		)`)
		if err != nil {
			db.Close()
			return nil, err
		}

		store.db = db
	}

	return store, nil
}

// NewJobID returns a 16 hex digit identifier.
func NewJobID() string {
	return fmt.Sprintf("%08x%08x", rand.Uint32(), rand.Uint32())
}

func jobCacheKey(id string) string {
	return "wpsjob-" + id
}

// Put publishes a snapshot of the job and mirrors it into memcached
// and Postgres when configured. The caller's instance stays private.
func (s *Store) Put(job *Job) error {
	snapshot := *job
	s.mu.Lock()
	s.jobs[snapshot.ID] = &snapshot
	s.mu.Unlock()

	doc, err := json.Marshal(&snapshot)
	if err != nil {
		return err
	}

	if s.mc != nil {
		// don't care about errors; memcache may not necessarily retain this anyway
		s.mc.Set(&memcache.Item{Key: jobCacheKey(snapshot.ID), Value: doc, Expiration: jobCacheExpiry})
	}

	if s.db != nil {
		_, err = s.db.Exec(
			`insert into wps_jobs (id, namespace, identifier, status, submitted, doc)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (id) do update set status = $4, doc = $6`,
			snapshot.ID, snapshot.NameSpace, snapshot.Identifier, snapshot.Status, snapshot.Submitted, doc)
		if err != nil {
			return err
		}
	}

	return nil
}

// Get looks a job up by id, falling back to memcached and then
// Postgres for jobs submitted before the last restart. The returned
// job is a copy.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	stored, ok := s.jobs[id]
	var job Job
	if ok {
		job = *stored
	}
	s.mu.RUnlock()
	if ok {
		return &job, true
	}

	if s.mc != nil {
		if cached, err := s.mc.Get(jobCacheKey(id)); err == nil {
			fetched := &Job{}
			if json.Unmarshal(cached.Value, fetched) == nil {
				return fetched, true
			}
		}
	}

	if s.db != nil {
		var doc []byte
		err := s.db.QueryRow(`select doc from wps_jobs where id = $1`, id).Scan(&doc)
		if err == nil {
			fetched := &Job{}
			if json.Unmarshal(doc, fetched) == nil {
				cached := *fetched
				s.mu.Lock()
				s.jobs[cached.ID] = &cached
				s.mu.Unlock()
				return fetched, true
			}
		}
	}

	return nil, false
}

// Items returns the catalog items of every finished job in the
// namespace, newest first.
func (s *Store) Items(namespace string) []*catalog.Item {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.NameSpace == namespace && job.Item != nil {
			jobs = append(jobs, job)
		}
	}
	s.mu.RUnlock()

	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].Submitted > jobs[i].Submitted {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}

	items := make([]*catalog.Item, len(jobs))
	for i, job := range jobs {
		items[i] = job.Item
	}
	return items
}

// Close releases the database handle.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
