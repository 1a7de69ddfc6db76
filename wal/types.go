package wal

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/vecseg/internal/compress"
	"github.com/hupe1980/vecseg/internal/fs"
)

// FileName is the name of the log file inside Options.Path.
const FileName = "segment.wal"

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync represents asynchronous durability.
	// No fsync, fastest writes but risk of data loss on crash.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit represents group commit durability.
	// Appends wait for a batched fsync that runs at a fixed interval or
	// once enough appends are pending.
	DurabilityGroupCommit

	// DurabilitySync represents synchronous durability.
	// fsync after every append.
	DurabilitySync
)

func (m DurabilityMode) String() string {
	switch m {
	case DurabilityAsync:
		return "async"
	case DurabilityGroupCommit:
		return "group_commit"
	case DurabilitySync:
		return "sync"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseDurabilityMode parses a durability mode name.
func ParseDurabilityMode(s string) (DurabilityMode, error) {
	switch strings.ToLower(s) {
	case "async":
		return DurabilityAsync, nil
	case "group_commit", "group", "":
		return DurabilityGroupCommit, nil
	case "sync":
		return DurabilitySync, nil
	default:
		return 0, fmt.Errorf("wal: unknown durability mode %q", s)
	}
}

// Options contains configuration for the WAL.
type Options struct {
	// Path is the directory where the log file is stored.
	Path string

	// FS is the file system used for the log file.
	FS fs.FileSystem

	// Codec compresses each record. It is fixed when the file is created;
	// an existing file keeps the codec recorded in its header.
	Codec compress.Codec

	// AutoCheckpointOps reports NeedsCheckpoint after N appended records.
	// Set to 0 to disable operation-based checkpoints.
	AutoCheckpointOps int

	// AutoCheckpointMB reports NeedsCheckpoint when the file exceeds N megabytes.
	// Set to 0 to disable size-based checkpoints.
	AutoCheckpointMB int

	// DurabilityMode controls fsync behavior (Async, GroupCommit, Sync).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time to wait before fsync in GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the number of pending appends that forces an
	// immediate fsync in GroupCommit mode.
	GroupCommitMaxOps int
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Path:                ".",
	Codec:               compress.None,
	AutoCheckpointOps:   10000,
	AutoCheckpointMB:    100,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
