package core

import "time"

// Merge folds update u into job and reports whether anything changed.
//
// A terminal job is never changed. A terminal update is always applied. A
// non-terminal update is applied when its progress is not lower than the
// stored progress or when it carries a different status. Progress never
// decreases and a Running job never returns to Pending; Pending becomes
// Running as soon as progress above zero is observed.
func Merge(job Job, u JobUpdate) (Job, bool) {
	if job.Status.IsTerminal() {
		return job, false
	}

	status := u.Status
	if !status.Valid() {
		status = job.Status
	}
	progress := clampProgress(u.Progress)

	next := job
	if status.IsTerminal() {
		next.Status = status
		if progress > next.Progress {
			next.Progress = progress
		}
		if status == JobCompleted {
			next.Progress = 100
			next.Error = nil
		} else {
			next.Error = u.Error
		}
		next.LastUpdate = laterOf(job.LastUpdate, u.LastUpdate)
		return next, true
	}

	if progress < job.Progress && status == job.Status {
		return job, false
	}

	if progress > next.Progress {
		next.Progress = progress
	}
	if status == JobPending && (job.Status == JobRunning || next.Progress > 0) {
		status = JobRunning
	}
	next.Status = status

	if next.Status == job.Status && next.Progress == job.Progress {
		return job, false
	}
	next.LastUpdate = laterOf(job.LastUpdate, u.LastUpdate)
	return next, true
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
