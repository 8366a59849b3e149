package core

import "fmt"

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Kind    ErrorKind
	Reason  string
}

// Error converts the guard result to a classified error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Reason}
}

func allow() GuardResult {
	return GuardResult{Allowed: true}
}

func deny(kind ErrorKind, format string, args ...any) GuardResult {
	return GuardResult{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// CreateAssignmentContext provides context for assignment creation guards.
type CreateAssignmentContext struct {
	ActorRole    Role
	TaskID       string
	TaskExists   bool
	UnknownUsers []string
}

// TransitionContext provides context for lifecycle transition guards.
type TransitionContext struct {
	AssignmentID    string
	Status          AssignmentStatus
	ActorID         string
	ActorRole       Role
	IsMember        bool
	WithinWorkHours bool
}

// RecordContext provides context for location ingestion guards.
type RecordContext struct {
	AssignmentID string
	UserID       string
	Status       AssignmentStatus
	IsMember     bool
	ActorID      string
	ActorRole    Role
}

// CanCreateAssignment evaluates whether an assignment can be created.
// Rules:
// - Actor must hold an elevated role
// - Task must exist
// - Every worker must be a known identity
func CanCreateAssignment(ctx CreateAssignmentContext) GuardResult {
	if !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "only supervisors can create assignments")
	}
	if !ctx.TaskExists {
		return deny(KindValidation, "task %s not found", ctx.TaskID)
	}
	if len(ctx.UnknownUsers) > 0 {
		return deny(KindValidation, "unknown user_ids: %v", ctx.UnknownUsers)
	}
	return allow()
}

// CanStartAssignment evaluates whether an assignment can be started.
// Rules:
// - Status must be "pending" (checked before anything about the actor)
// - Actor must be a member or elevated
// - Inside the work-hour window, unless the actor is elevated
func CanStartAssignment(ctx TransitionContext) GuardResult {
	if ctx.Status != AssignmentStatusPending {
		return deny(KindInvalidTransition, "can only start pending assignments (current status: %s)", ctx.Status)
	}
	if !ctx.IsMember && !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "user %s is not assigned to %s", ctx.ActorID, ctx.AssignmentID)
	}
	if !ctx.WithinWorkHours && !ctx.ActorRole.Elevated() {
		return deny(KindInvalidTransition, "assignment %s is outside its work hours", ctx.AssignmentID)
	}
	return allow()
}

// CanCompleteAssignment evaluates whether an assignment can be completed.
// Rules:
// - Status must be "in_progress"
// - Actor must be a member or elevated
func CanCompleteAssignment(ctx TransitionContext) GuardResult {
	if ctx.Status != AssignmentStatusInProgress {
		return deny(KindInvalidTransition, "can only complete in_progress assignments (current status: %s)", ctx.Status)
	}
	if !ctx.IsMember && !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "user %s is not assigned to %s", ctx.ActorID, ctx.AssignmentID)
	}
	return allow()
}

// CanResetAssignment evaluates whether an assignment can go back to pending.
// Rules:
// - Completed assignments keep their history
// - Actor must be a member or elevated
func CanResetAssignment(ctx TransitionContext) GuardResult {
	if ctx.Status == AssignmentStatusCompleted {
		return deny(KindInvalidTransition, "cannot reset completed assignment %s", ctx.AssignmentID)
	}
	if !ctx.IsMember && !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "user %s is not assigned to %s", ctx.ActorID, ctx.AssignmentID)
	}
	return allow()
}

// CanDeleteAssignment evaluates whether an assignment can be deleted.
// Rules:
// - Actor must hold an elevated role
// - Completed assignments cannot be deleted
func CanDeleteAssignment(ctx TransitionContext) GuardResult {
	if !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "only supervisors can delete assignments")
	}
	if ctx.Status == AssignmentStatusCompleted {
		return deny(KindInvalidTransition, "cannot delete completed assignment %s", ctx.AssignmentID)
	}
	return allow()
}

// CanRecordLocation evaluates whether a sample may be written.
// Rules:
// - Actor records for themselves unless elevated
// - Sampled user must be a member of the assignment
// - Assignment must be "in_progress"
func CanRecordLocation(ctx RecordContext) GuardResult {
	if ctx.ActorID != "" && ctx.ActorID != ctx.UserID && !ctx.ActorRole.Elevated() {
		return deny(KindAuthorization, "user %s cannot record locations for %s", ctx.ActorID, ctx.UserID)
	}
	if !ctx.IsMember {
		return deny(KindAuthorization, "user %s is not assigned to %s", ctx.UserID, ctx.AssignmentID)
	}
	if ctx.Status != AssignmentStatusInProgress {
		return deny(KindNotTrackable, "assignment %s is not currently trackable (status: %s)", ctx.AssignmentID, ctx.Status)
	}
	return allow()
}
