package constants

// Distributed lock identifiers. Postgres uses them as advisory lock keys; Redis
// and local managers derive a key name from them.
const (
	MigrationLock = iota + 7001
	SweepLock
)

var Locks = []int{
	MigrationLock,
	SweepLock,
}

// LockName returns a stable, human-readable name for a lock id.
func LockName(id int) string {
	switch id {
	case MigrationLock:
		return "migration"
	case SweepLock:
		return "sweep"
	}
	return "unknown"
}
