package models

import "time"

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncOffline SyncState = "offline"
)

type SyncDirection string

const (
	SyncUpload        SyncDirection = "upload"
	SyncDownload      SyncDirection = "download"
	SyncBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) Valid() bool {
	switch d {
	case SyncUpload, SyncDownload, SyncBidirectional:
		return true
	default:
		return false
	}
}

// ResetsPending reports whether a successful run of this direction clears
// the pending change counter.
func (d SyncDirection) ResetsPending() bool {
	return d == SyncUpload || d == SyncBidirectional
}

type ConflictPolicy string

const (
	CloudWins ConflictPolicy = "cloud-wins"
	LocalWins ConflictPolicy = "local-wins"
)

func (p ConflictPolicy) Valid() bool {
	return p == CloudWins || p == LocalWins
}

// SyncStatus is a snapshot of the orchestrator state. Version grows by one
// on every transition so subscribers can drop stale snapshots.
type SyncStatus struct {
	LastSyncTimestamp  *time.Time `json:"last_sync_timestamp"`
	PendingChangeCount int        `json:"pending_change_count"`
	RemoteAvailable    bool       `json:"remote_available"`
	SyncInProgress     bool       `json:"sync_in_progress"`
	Version            uint64     `json:"version"`
}

func (s SyncStatus) State() SyncState {
	switch {
	case s.SyncInProgress:
		return SyncSyncing
	case !s.RemoteAvailable:
		return SyncOffline
	default:
		return SyncIdle
	}
}

// SyncRun is one recorded sync attempt.
type SyncRun struct {
	ID         int64         `json:"id"`
	Direction  SyncDirection `json:"direction"`
	Provider   string        `json:"provider"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	OK         bool          `json:"ok"`
	DaysOK     int           `json:"days_ok"`
	DaysFailed int           `json:"days_failed"`
	Error      *string       `json:"error"`
}
