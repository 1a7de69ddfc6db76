package snapshot

import "errors"

var (
	// ErrNotFound is returned for an unknown snapshot id or when nothing was
	// committed yet.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrCorrupted is returned when a manifest or file fails verification.
	ErrCorrupted = errors.New("snapshot: corrupted")
	// ErrDirNotEmpty is returned when restoring into a directory with files.
	ErrDirNotEmpty = errors.New("snapshot: target directory is not empty")
	// ErrInUse is returned when deleting the committed snapshot.
	ErrInUse = errors.New("snapshot: snapshot is committed as CURRENT")
)
