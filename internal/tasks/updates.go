package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a batch run.
//
// Used to send real-time updates to the CLI or daemon logs.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	SelectUsers Phase = iota
	LoadUsers
	SyncUsers
	BatchComplete
)

func (p Phase) String() string {
	switch p {
	case SelectUsers:
		return "select_users"
	case LoadUsers:
		return "load_users"
	case SyncUsers:
		return "sync_users"
	case BatchComplete:
		return "batch_complete"
	default:
		return ""
	}
}

func selectUsersUpdate(selected, eligible int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SelectUsers,
		Step:    selected,
		Total:   eligible,
		Message: fmt.Sprintf("Selected %d of %d eligible users", selected, eligible),
	}
}

func loadChunkUpdate(step, total, size int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Loading %d users...", step, total, size),
	}
}

func userSyncedUpdate(step, total int, res *SyncResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d new, %d already scrobbled)", step, total, res.UserID, res.NewScrobbles, res.AlreadyScrobbled),
		Data:    res,
	}
}

func userFailedUpdate(step, total int, userErr UserError) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncUsers,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, userErr.UserID, userErr.Err),
		Data:    userErr,
	}
}

func batchCompleteUpdate(res *BatchResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchComplete,
		Step:    res.Processed,
		Total:   res.Processed,
		Message: fmt.Sprintf("Processed %d users: %d succeeded, %d failed, %d new scrobbles", res.Processed, res.Succeeded, res.Failed, res.NewScrobbles),
		Data:    res,
	}
}
