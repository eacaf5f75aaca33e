package models

import "time"

// TaskType identifies the kind of work a task performs. It is fixed at creation.
type TaskType string

const (
	TaskTypeDatasetUpload TaskType = "dataset_upload"
	TaskTypeModelUpload   TaskType = "model_upload"
	TaskTypeTraining      TaskType = "training"
	TaskTypeEvaluation    TaskType = "evaluation"
	TaskTypeSynthesis     TaskType = "synthesis"
)

// TaskTypes lists every known task type.
var TaskTypes = []TaskType{
	TaskTypeDatasetUpload,
	TaskTypeModelUpload,
	TaskTypeTraining,
	TaskTypeEvaluation,
	TaskTypeSynthesis,
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDatasetUpload, TaskTypeModelUpload, TaskTypeTraining, TaskTypeEvaluation, TaskTypeSynthesis:
		return true
	}
	return false
}

// AffectedCollections returns the resource collections whose contents change
// when a task of this type completes.
func (t TaskType) AffectedCollections() []ResourceCollection {
	switch t {
	case TaskTypeTraining, TaskTypeModelUpload:
		return []ResourceCollection{CollectionModels}
	case TaskTypeDatasetUpload, TaskTypeSynthesis:
		return []ResourceCollection{CollectionDatasets}
	case TaskTypeEvaluation:
		return nil
	}
	return nil
}

// TaskStatus is the server-authoritative lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are expected.
// Unknown statuses are treated as non-terminal.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is a unit of asynchronous, server-executed work. The BFF never mutates
// a Task; it only observes it through periodic reads of the gateway.
type Task struct {
	ID        string     `json:"id"`
	Type      TaskType   `json:"task_type"`
	Status    TaskStatus `json:"task_status"`
	Tag       string     `json:"tag,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	ErrorMsg  string     `json:"error_msg,omitempty"`
}

// TaskStatusDetail is the type-specific status payload returned by the
// gateway's per-task status endpoints.
type TaskStatusDetail struct {
	ID       string     `json:"id"`
	Status   TaskStatus `json:"task_status"`
	ErrorMsg string     `json:"error_msg,omitempty"`
	Progress *float64   `json:"progress,omitempty"`
}

// TaskQuery restricts a task listing. Zero fields are not sent.
type TaskQuery struct {
	WindowHours int
	Type        TaskType
	Tag         string
}
