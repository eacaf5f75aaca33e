package models

import "time"

// ResourceCollection names a server-side collection that tasks can change.
type ResourceCollection string

const (
	CollectionModels   ResourceCollection = "models"
	CollectionDatasets ResourceCollection = "datasets"
)

type Model struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	BaseModel   string    `json:"base_model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	NumSamples  int       `json:"num_samples,omitempty"`
	FileIDs     []string  `json:"file_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResourceUpdate carries the editable fields of a model or dataset.
type ResourceUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
