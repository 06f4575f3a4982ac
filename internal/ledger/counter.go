package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// counterSize is the on-disk size of the counter: one little-endian int32.
const counterSize = 4

// lockRetryDelay is the polling interval while another process holds the lock.
const lockRetryDelay = 10 * time.Millisecond

// Counter mints file ids from a small file shared by every process using
// the same state directory. Each Next is one locked read-increment-write.
type Counter struct {
	path string
	lock *flock.Flock

	// flock does not exclude goroutines sharing one descriptor.
	mu     sync.Mutex
	synced bool
}

// NewCounter creates the counter for table inside stateDir.
func NewCounter(stateDir, table string) (*Counter, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, table+".file_id")
	return &Counter{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the counter file path.
func (c *Counter) Path() string { return c.path }

// Next returns the next file id. ledgerMax is the highest id in the ledger;
// the first call in a process raises a missing or stale counter to it.
func (c *Counter) Next(ctx context.Context, ledgerMax int32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	locked, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return 0, fmt.Errorf("lock counter: %w", err)
	}
	if !locked {
		return 0, fmt.Errorf("lock counter: %s not acquired", c.lock.Path())
	}
	defer c.lock.Unlock()

	cur, err := c.read()
	if err != nil {
		return 0, err
	}
	if !c.synced {
		cur = max(cur, ledgerMax)
	}
	if cur == math.MaxInt32 {
		return 0, errors.New("file id counter exhausted")
	}
	next := cur + 1

	if err := c.write(next); err != nil {
		return 0, err
	}
	c.synced = true
	return next, nil
}

// Peek returns the persisted counter value without incrementing it.
func (c *Counter) Peek() (int32, error) {
	return c.read()
}

func (c *Counter) read() (int32, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if len(data) != counterSize {
		return 0, fmt.Errorf("read counter %s: got %d bytes, want %d", c.path, len(data), counterSize)
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

// write replaces the counter file atomically (temp file, fsync, rename).
func (c *Counter) write(v int32) error {
	var buf [counterSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write counter: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync counter: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close counter: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp) // Clean up temp file on failure
		return fmt.Errorf("rename counter: %w", err)
	}
	return nil
}
