package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minicloud/minicloud/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks         = []byte("tasks")
	bucketUsers         = []byte("users")
	bucketGPURegistry   = []byte("gpu_registry")
	bucketGPUAllocs     = []byte("gpu_allocations")
	bucketGPUQueue      = []byte("gpu_queue")
	bucketQueuePending  = []byte("queue_pending")
	bucketQueueInflight = []byte("queue_inflight")

	keyUsed = []byte("used")
)

// waitEntry is one parked payload in the GPU wait queue
type waitEntry struct {
	TaskID  int64             `json:"task_id"`
	Payload *types.JobPayload `json:"payload"`
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "minicloud.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketUsers,
			bucketGPURegistry,
			bucketGPUAllocs,
			bucketGPUQueue,
			bucketQueuePending,
			bucketQueueInflight,
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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// itob converts an id to a big-endian key so cursor order matches
// numeric order
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// Task operations

// CreateTask persists a new task row and assigns its id from the
// bucket sequence. Ids are monotonically increasing and never reused.
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign task id: %w", err)
		}
		task.ID = int64(seq)
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put(itob(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id int64) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", types.ErrTaskNotFound, id)
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
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
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

func (s *BoltStore) ListTasksByOwner(ownerID int64) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.OwnerID == ownerID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

// SetTaskPath records the workspace directory. The path is written
// exactly once, while the task is still pending.
func (s *BoltStore) SetTaskPath(id int64, path string) error {
	return s.mutateTask(id, func(task *types.Task) error {
		if task.Status != types.TaskStatusPending {
			return fmt.Errorf("%w: path write on %s task %d", types.ErrInvalidTransition, task.Status, id)
		}
		if task.Path != "" {
			return fmt.Errorf("%w: path already set for task %d", types.ErrInvalidTransition, id)
		}
		task.Path = path
		return nil
	})
}

// UpdateTaskStatus moves a task along the lifecycle DAG. Transitions
// outside the DAG, including any write after a terminal status, are
// rejected with ErrInvalidTransition.
func (s *BoltStore) UpdateTaskStatus(id int64, next types.TaskStatus) error {
	return s.mutateTask(id, func(task *types.Task) error {
		if !task.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s → %s for task %d", types.ErrInvalidTransition, task.Status, next, id)
		}
		task.Status = next
		if next == types.TaskStatusRunning {
			task.StartedAt = time.Now().UTC()
		}
		return nil
	})
}

// FinishTask writes the terminal status together with the final log
// blob and exit code in one transaction, so no reader ever sees a
// terminal status without its logs.
func (s *BoltStore) FinishTask(id int64, status types.TaskStatus, logs string, exitCode int) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", types.ErrInvalidTransition, status)
	}
	return s.mutateTask(id, func(task *types.Task) error {
		if !task.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s → %s for task %d", types.ErrInvalidTransition, task.Status, status, id)
		}
		task.Status = status
		task.Logs = logs
		task.ExitCode = exitCode
		task.FinishedAt = time.Now().UTC()
		return nil
	})
}

func (s *BoltStore) DeleteTask(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get(itob(id)) == nil {
			return fmt.Errorf("%w: %d", types.ErrTaskNotFound, id)
		}
		return b.Delete(itob(id))
	})
}

// mutateTask applies fn to a task row inside a single write
// transaction: read, mutate, write back.
func (s *BoltStore) mutateTask(id int64, fn func(*types.Task) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", types.ErrTaskNotFound, id)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put(itob(id), updated)
	})
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		// Usernames are unique; they appear in workspace paths.
		var conflict bool
		if err := b.ForEach(func(k, v []byte) error {
			var existing types.User
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Username == user.Username {
				conflict = true
			}
			return nil
		}); err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("user already exists: %s", user.Username)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign user id: %w", err)
		}
		user.ID = int64(seq)
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put(itob(user.ID), data)
	})
}

func (s *BoltStore) GetUser(id int64) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", types.ErrUserNotFound, id)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByName(name string) (*types.User, error) {
	return s.findUser(func(u *types.User) bool { return u.Username == name })
}

func (s *BoltStore) GetUserByToken(token string) (*types.User, error) {
	return s.findUser(func(u *types.User) bool { return u.Token == token })
}

func (s *BoltStore) findUser(match func(*types.User) bool) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if found == nil && match(&user) {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, types.ErrUserNotFound
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// GPU registry operations

func getUsed(b *bolt.Bucket) (int64, error) {
	data := b.Get(keyUsed)
	if data == nil {
		return 0, nil
	}
	used, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt gpu registry counter: %w", err)
	}
	return used, nil
}

func putUsed(b *bolt.Bucket, used int64) error {
	return b.Put(keyUsed, []byte(strconv.FormatInt(used, 10)))
}

// tryAcquireGPU runs the admission check inside an open transaction so
// ReleaseGPU can re-admit the queue head atomically with the release.
func tryAcquireGPU(tx *bolt.Tx, taskID, sliceMB, totalMB int64) (bool, error) {
	reg := tx.Bucket(bucketGPURegistry)
	allocs := tx.Bucket(bucketGPUAllocs)

	if allocs.Get(itob(taskID)) != nil {
		// The task already holds a slice; a repeated acquire is granted
		// without double-counting.
		return true, nil
	}

	used, err := getUsed(reg)
	if err != nil {
		return false, err
	}
	if used+sliceMB > totalMB {
		return false, nil
	}
	if err := putUsed(reg, used+sliceMB); err != nil {
		return false, err
	}
	if err := allocs.Put(itob(taskID), []byte(strconv.FormatInt(sliceMB, 10))); err != nil {
		return false, err
	}
	return true, nil
}

// TryAcquireGPU reserves one slice for the task if the budget allows.
// The counter and the allocation table move together or not at all.
func (s *BoltStore) TryAcquireGPU(taskID, sliceMB, totalMB int64) (bool, error) {
	var granted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		granted, err = tryAcquireGPU(tx, taskID, sliceMB, totalMB)
		return err
	})
	return granted, err
}

// EnqueueGPU appends a parked payload to the tail of the wait queue
func (s *BoltStore) EnqueueGPU(taskID int64, payload *types.JobPayload) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		q := tx.Bucket(bucketGPUQueue)
		seq, err := q.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign queue position: %w", err)
		}
		data, err := json.Marshal(&waitEntry{TaskID: taskID, Payload: payload})
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return q.Put(key, data)
	})
}

// ReleaseGPU returns the task's slice to the budget and admits the
// head of the wait queue if a slice now fits, all in one transaction.
// Unknown task ids release nothing but still wake the queue, so a
// wiped registry cannot strand parked payloads; released reports
// whether a slice was actually returned. The admitted payload is
// returned for dispatch; nil means nothing was admitted.
func (s *BoltStore) ReleaseGPU(taskID, sliceMB, totalMB int64) (bool, *types.JobPayload, error) {
	var released bool
	var next *types.JobPayload
	err := s.db.Update(func(tx *bolt.Tx) error {
		reg := tx.Bucket(bucketGPURegistry)
		allocs := tx.Bucket(bucketGPUAllocs)

		if data := allocs.Get(itob(taskID)); data != nil {
			size, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt gpu allocation for task %d: %w", taskID, err)
			}
			used, err := getUsed(reg)
			if err != nil {
				return err
			}
			used -= size
			if used < 0 {
				used = 0
			}
			if err := putUsed(reg, used); err != nil {
				return err
			}
			if err := allocs.Delete(itob(taskID)); err != nil {
				return err
			}
			released = true
		}

		// Wake the queue head. The entry is only removed once its
		// acquire succeeded, which is the same as pop + re-push at the
		// head but without losing its position on failure.
		q := tx.Bucket(bucketGPUQueue)
		k, v := q.Cursor().First()
		if k == nil {
			return nil
		}
		var entry waitEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("corrupt gpu queue entry: %w", err)
		}
		granted, err := tryAcquireGPU(tx, entry.TaskID, sliceMB, totalMB)
		if err != nil {
			return err
		}
		if !granted {
			// Budget was reconfigured below one slice; the head keeps
			// waiting.
			return nil
		}
		if err := q.Delete(k); err != nil {
			return err
		}
		next = entry.Payload
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return released, next, nil
}

// GPUSnapshot reads the whole registry in one view transaction
func (s *BoltStore) GPUSnapshot(totalMB, sliceMB int64) (*types.GPUSnapshot, error) {
	snap := &types.GPUSnapshot{
		TotalMB:     totalMB,
		SliceMB:     sliceMB,
		Allocations: make(map[int64]int64),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		used, err := getUsed(tx.Bucket(bucketGPURegistry))
		if err != nil {
			return err
		}
		snap.UsedMB = used

		if err := tx.Bucket(bucketGPUAllocs).ForEach(func(k, v []byte) error {
			size, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt gpu allocation: %w", err)
			}
			snap.Allocations[int64(binary.BigEndian.Uint64(k))] = size
			return nil
		}); err != nil {
			return err
		}

		snap.QueueDepth = tx.Bucket(bucketGPUQueue).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Worker queue operations

// QueuePush appends a job to the tail of the pending queue and stamps
// its sequence number
func (s *BoltStore) QueuePush(job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueuePending)
		if job.Seq == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to assign queue position: %w", err)
			}
			job.Seq = seq
		}
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = time.Now().UTC()
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, job.Seq)
		return b.Put(key, data)
	})
}

// QueueLease moves the head of the pending queue to the inflight
// table and returns it. Returns nil when the queue is empty.
func (s *BoltStore) QueueLease() (*Job, error) {
	var job *Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketQueuePending)
		k, v := pending.Cursor().First()
		if k == nil {
			return nil
		}

		var j Job
		if err := json.Unmarshal(v, &j); err != nil {
			return fmt.Errorf("corrupt queue entry: %w", err)
		}
		j.LeasedAt = time.Now().UTC()
		j.Attempts++

		data, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketQueueInflight).Put(k, data); err != nil {
			return err
		}
		if err := pending.Delete(k); err != nil {
			return err
		}
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// QueueAck drops a finished job from the inflight table
func (s *BoltStore) QueueAck(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return tx.Bucket(bucketQueueInflight).Delete(key)
	})
}

// QueueExtend refreshes the lease timestamp of an inflight job so the
// reaper leaves it alone while its holder is still working. Extending
// a job that is no longer inflight (just acked, or already reaped) is
// a harmless no-op.
func (s *BoltStore) QueueExtend(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		inflight := tx.Bucket(bucketQueueInflight)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		data := inflight.Get(key)
		if data == nil {
			return nil
		}
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("corrupt inflight entry: %w", err)
		}
		j.LeasedAt = time.Now().UTC()

		renewed, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		return inflight.Put(key, renewed)
	})
}

// QueueReap returns jobs leased before the cutoff to the pending
// queue. Each keeps its original sequence key, so a redelivered job
// goes back to its original FIFO position.
func (s *BoltStore) QueueReap(cutoff time.Time) (int, error) {
	reaped := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		inflight := tx.Bucket(bucketQueueInflight)
		pending := tx.Bucket(bucketQueuePending)

		type expired struct {
			key  []byte
			data []byte
		}
		var stale []expired

		if err := inflight.ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				return fmt.Errorf("corrupt inflight entry: %w", err)
			}
			if j.LeasedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				data := make([]byte, len(v))
				copy(data, v)
				stale = append(stale, expired{key: key, data: data})
			}
			return nil
		}); err != nil {
			return err
		}

		for _, e := range stale {
			if err := pending.Put(e.key, e.data); err != nil {
				return err
			}
			if err := inflight.Delete(e.key); err != nil {
				return err
			}
			reaped++
		}
		return nil
	})
	return reaped, err
}

// QueueDepth reports the pending and inflight counts
func (s *BoltStore) QueueDepth() (int, int, error) {
	var pending, inflight int
	err := s.db.View(func(tx *bolt.Tx) error {
		pending = tx.Bucket(bucketQueuePending).Stats().KeyN
		inflight = tx.Bucket(bucketQueueInflight).Stats().KeyN
		return nil
	})
	return pending, inflight, err
}
