package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/hetuflow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs          = []byte("jobs")
	bucketSchedules     = []byte("schedules")
	bucketTasks         = []byte("tasks")
	bucketTaskDedup     = []byte("task_dedup") // (schedule_id|scheduled_at) -> task_id
	bucketTaskInstances = []byte("task_instances")
	bucketServers       = []byte("servers")
	bucketAgents        = []byte("agents")
	bucketNamespaces    = []byte("namespaces")
	bucketLocks         = []byte("locks")
)

// BoltStore implements Store using BoltDB as the embedded, transactional
// backend for a single Server instance's view of scheduler state.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hetuflow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketSchedules,
			bucketTasks,
			bucketTaskDedup,
			bucketTaskInstances,
			bucketServers,
			bucketAgents,
			bucketNamespaces,
			bucketLocks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job) // upsert
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}

// --- Schedules ---

func (s *BoltStore) CreateSchedule(schedule *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data, err := json.Marshal(schedule)
		if err != nil {
			return err
		}
		return b.Put([]byte(schedule.ID), data)
	})
}

func (s *BoltStore) GetSchedule(id string) (*types.Schedule, error) {
	var schedule types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &schedule)
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *BoltStore) ListSchedules() ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var schedule types.Schedule
			if err := json.Unmarshal(v, &schedule); err != nil {
				return err
			}
			schedules = append(schedules, &schedule)
			return nil
		})
	})
	return schedules, err
}

func (s *BoltStore) ListActiveSchedules() ([]*types.Schedule, error) {
	all, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}
	var active []*types.Schedule
	for _, sch := range all {
		if sch.Status == types.ScheduleStatusActive {
			active = append(active, sch)
		}
	}
	return active, nil
}

func (s *BoltStore) UpdateSchedule(schedule *types.Schedule) error {
	return s.CreateSchedule(schedule)
}

func (s *BoltStore) DeleteSchedule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(id))
	})
}

// --- Tasks ---

// taskDedupKey computes the secondary-index key enforcing the
// (schedule_id, scheduled_at) uniqueness invariant for generated tasks.
func taskDedupKey(scheduleID string, scheduledAt time.Time) []byte {
	return []byte(scheduleID + "|" + scheduledAt.UTC().Format(time.RFC3339))
}

// CreateTaskIfAbsent inserts task unless a Task already exists for its
// (ScheduleID, ScheduledAt) pair, in which case it is a no-op — this is
// what makes repeated Task Generator passes idempotent. Tasks with no
// ScheduleID (manual/event dispatch) are never deduplicated.
func (s *BoltStore) CreateTaskIfAbsent(task *types.Task) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		dedup := tx.Bucket(bucketTaskDedup)
		if task.ScheduleID != "" {
			key := taskDedupKey(task.ScheduleID, task.ScheduledAt)
			if existing := dedup.Get(key); existing != nil {
				return nil
			}
			if err := dedup.Put(key, []byte(task.ID)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), data); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListActiveTasks() ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var active []*types.Task
	for _, t := range all {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active, nil
}

func (s *BoltStore) ListTasksByServer(serverID string) ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, t := range all {
		if t.ServerID == serverID {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
}

// UpdateTaskCAS re-reads the Task inside the write transaction, checks
// its Revision against expectedRevision, applies mutate, and persists
// with Revision+1 — all within one BoltDB transaction, so two Servers
// racing to claim the same Task never both succeed.
func (s *BoltStore) UpdateTaskCAS(id string, expectedRevision int64, mutate func(*types.Task)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if task.Revision != expectedRevision {
			return ErrRevisionMismatch
		}
		mutate(&task)
		task.Revision++
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// --- Task instances ---

func (s *BoltStore) CreateTaskInstance(instance *types.TaskInstance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(instance)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTaskInstances).Put([]byte(instance.ID), data)
	})
}

func (s *BoltStore) GetTaskInstance(id string) (*types.TaskInstance, error) {
	var instance types.TaskInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTaskInstances).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &instance)
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (s *BoltStore) ListTaskInstancesByTask(taskID string) ([]*types.TaskInstance, error) {
	var instances []*types.TaskInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskInstances).ForEach(func(k, v []byte) error {
			var instance types.TaskInstance
			if err := json.Unmarshal(v, &instance); err != nil {
				return err
			}
			if instance.TaskID == taskID {
				instances = append(instances, &instance)
			}
			return nil
		})
	})
	return instances, err
}

func (s *BoltStore) UpdateTaskInstance(instance *types.TaskInstance) error {
	return s.CreateTaskInstance(instance)
}

// ListRunningTaskInstances returns every instance with Status Running,
// the working set the timeout sweep scans for task_timeout expiry.
func (s *BoltStore) ListRunningTaskInstances() ([]*types.TaskInstance, error) {
	var running []*types.TaskInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskInstances).ForEach(func(k, v []byte) error {
			var instance types.TaskInstance
			if err := json.Unmarshal(v, &instance); err != nil {
				return err
			}
			if instance.Status == types.TaskInstanceStatusRunning {
				running = append(running, &instance)
			}
			return nil
		})
	})
	return running, err
}

// --- Servers ---

func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(server)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServers).Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServers).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) ListActiveServers() ([]*types.Server, error) {
	all, err := s.ListServers()
	if err != nil {
		return nil, err
	}
	var active []*types.Server
	for _, srv := range all {
		if srv.Status == types.ServerStatusActive {
			active = append(active, srv)
		}
	}
	return active, nil
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	return s.CreateServer(server)
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).Delete([]byte(id))
	})
}

// --- Agents ---

func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAgents).Put([]byte(agent.ID), data)
	})
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.CreateAgent(agent)
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(id))
	})
}

// --- Namespaces ---

func (s *BoltStore) CreateNamespace(ns *types.Namespace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ns)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNamespaces).Put([]byte(ns.ID), data)
	})
}

func (s *BoltStore) GetNamespace(id string) (*types.Namespace, error) {
	var ns types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNamespaces).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &ns)
	})
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

func (s *BoltStore) ListNamespaces() ([]*types.Namespace, error) {
	var namespaces []*types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var ns types.Namespace
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			namespaces = append(namespaces, &ns)
			return nil
		})
	})
	return namespaces, err
}

func (s *BoltStore) UpdateNamespace(ns *types.Namespace) error {
	return s.CreateNamespace(ns)
}

// --- Distributed lock ---

func (s *BoltStore) GetLock(id string) (*types.DistributedLock, error) {
	var lock types.DistributedLock
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &lock)
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// AcquireOrRenewLock implements optimistic-lock leader election: a
// single compare-and-swap UPDATE (here, a single BoltDB write
// transaction) succeeds when the lock row is absent, expired, or
// already held by holder, and fails otherwise.
func (s *BoltStore) AcquireOrRenewLock(id, holder string, ttl time.Duration, now time.Time) (bool, *types.DistributedLock, error) {
	var acquired bool
	var result types.DistributedLock
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data := b.Get([]byte(id))

		var lock types.DistributedLock
		if data != nil {
			if err := json.Unmarshal(data, &lock); err != nil {
				return err
			}
		} else {
			lock = types.DistributedLock{ID: id}
		}

		if data != nil && lock.Holder != "" && lock.Holder != holder && lock.ExpireAt.After(now) {
			acquired = false
			result = lock
			return nil
		}

		lock.Holder = holder
		lock.ExpireAt = now.Add(ttl)
		lock.Revision++
		out, err := json.Marshal(&lock)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), out); err != nil {
			return err
		}
		acquired = true
		result = lock
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return acquired, &result, nil
}

// ReleaseLock clears Holder if holder currently owns the lock; it is a
// no-op (not an error) if holder has already lost the lock.
func (s *BoltStore) ReleaseLock(id, holder string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		var lock types.DistributedLock
		if err := json.Unmarshal(data, &lock); err != nil {
			return err
		}
		if lock.Holder != holder {
			return nil
		}
		lock.Holder = ""
		lock.Revision++
		out, err := json.Marshal(&lock)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}
