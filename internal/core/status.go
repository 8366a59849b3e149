package core

import "time"

// IsWithinWorkHours reports whether now's time of day falls inside the task's
// scheduled window, bounds inclusive. Tasks without a complete window are always
// workable. A window whose start is later than its end spans midnight.
func IsWithinWorkHours(task *Task, now time.Time) bool {
	if task == nil || task.ScheduledStart == nil || task.ScheduledEnd == nil {
		return true
	}
	current := TimeOfDayOf(now).Seconds()
	start := task.ScheduledStart.Seconds()
	end := task.ScheduledEnd.Seconds()
	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

// ComputedStatus derives the display status of an assignment at now.
func ComputedStatus(a *Assignment, task *Task, now time.Time) DisplayStatus {
	switch a.Status {
	case AssignmentStatusCompleted:
		return DisplayStatusCompleted
	case AssignmentStatusInProgress:
		return DisplayStatusInProgress
	default:
		if IsWithinWorkHours(task, now) {
			return DisplayStatusPending
		}
		return DisplayStatusInactive
	}
}

// ParseDisplayStatus validates a status filter value. Both "in progress" and
// "in_progress" are accepted.
func ParseDisplayStatus(value string) (DisplayStatus, error) {
	switch value {
	case string(DisplayStatusPending):
		return DisplayStatusPending, nil
	case string(DisplayStatusInactive):
		return DisplayStatusInactive, nil
	case string(DisplayStatusInProgress), string(AssignmentStatusInProgress):
		return DisplayStatusInProgress, nil
	case string(DisplayStatusCompleted):
		return DisplayStatusCompleted, nil
	}
	return "", Validationf("status must be one of pending, inactive, in_progress, completed")
}

// displayRank orders statuses for sorting: active work first, finished work last.
func displayRank(s DisplayStatus) int {
	switch s {
	case DisplayStatusInProgress:
		return 0
	case DisplayStatusPending:
		return 1
	case DisplayStatusInactive:
		return 2
	default:
		return 3
	}
}
