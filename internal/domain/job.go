package domain

import "time"

// JobType enumerates supported processing job categories.
type JobType string

const (
	JobTypeConvert    JobType = "convert"
	JobTypeRemoveBG   JobType = "remove_bg"
	JobTypeColorGrade JobType = "color_grade"
	JobTypeMerge      JobType = "merge"
	JobTypeTrim       JobType = "trim"
)

// JobTypes lists every job type accepted by intake.
var JobTypes = []JobType{JobTypeConvert, JobTypeRemoveBG, JobTypeColorGrade, JobTypeMerge, JobTypeTrim}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether a job in s holds a concurrency slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	// running -> pending is reserved for the dead-worker requeue.
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusPending},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders pending jobs; higher values dispatch first.
type Priority int

const (
	PriorityFree Priority = 0
	PriorityPro  Priority = 10
)

// PriorityForPlan derives the fixed dispatch priority for a plan.
func PriorityForPlan(plan Plan) Priority {
	if plan == PlanPro {
		return PriorityPro
	}
	return PriorityFree
}

// MaxRequeues bounds how often a stalled job returns to pending.
const MaxRequeues = 1

// Job is the durable record of one processing request.
type Job struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"account_id"`
	InputAssetIDs []string   `json:"input_asset_ids"`
	Type          JobType    `json:"type"`
	Params        Parameters `json:"params"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Priority      Priority   `json:"priority"`
	Seq           uint64     `json:"seq"`
	ResultAssetID string     `json:"result_asset_id,omitempty"`
	ErrorKind     ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	Requeues      int        `json:"requeues"`
	SlotReleased  bool       `json:"slot_released"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside a critical section.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.InputAssetIDs = append([]string(nil), j.InputAssetIDs...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Expired reports whether the retention deadline has passed at now.
func (j *Job) Expired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// JobView is the read-only status snapshot returned to clients.
type JobView struct {
	ID             string     `json:"job_id"`
	Type           JobType    `json:"type"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	ResultAssetID  string     `json:"result_asset_id,omitempty"`
	ResultLocation string     `json:"result_location,omitempty"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// View builds the client-facing snapshot of j.
func (j *Job) View() JobView {
	v := JobView{
		ID:            j.ID,
		Type:          j.Type,
		Status:        j.Status,
		ResultAssetID: j.ResultAssetID,
		ErrorKind:     j.ErrorKind,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		ExpiresAt:     j.ExpiresAt,
	}
	switch j.Status {
	case JobStatusRunning:
		v.Progress = j.Progress
	case JobStatusCompleted:
		v.Progress = 100
	}
	return v
}
