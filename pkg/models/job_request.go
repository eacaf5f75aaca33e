package models

import (
	"errors"
	"fmt"
)

// ErrInvalidJobRequest is returned when a job request fails local validation.
var ErrInvalidJobRequest = errors.New("invalid job request")

// JobRequest asks the gateway to enqueue a task of Type with kind-specific Params.
type JobRequest struct {
	Type   TaskType
	Params any
}

type TrainingParams struct {
	ModelID         string             `json:"model_id"`
	DatasetIDs      []string           `json:"dataset_ids"`
	OutputName      string             `json:"output_name,omitempty"`
	Hyperparameters map[string]float64 `json:"hyperparameters,omitempty"`
}

type EvaluationParams struct {
	ModelID   string `json:"model_id"`
	DatasetID string `json:"dataset_id"`
}

type SynthesisParams struct {
	SourceDatasetID string `json:"source_dataset_id,omitempty"`
	ModelID         string `json:"model_id,omitempty"`
	OutputName      string `json:"output_name"`
	NumSamples      int    `json:"num_samples"`
}

type ModelUploadParams struct {
	Name      string   `json:"name"`
	BaseModel string   `json:"base_model,omitempty"`
	FileIDs   []string `json:"file_ids"`
}

type DatasetUploadParams struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	FileIDs     []string `json:"file_ids"`
}

// Validate checks that Params matches Type and carries the required fields.
func (r JobRequest) Validate() error {
	switch r.Type {
	case TaskTypeTraining:
		p, ok := r.Params.(TrainingParams)
		if !ok {
			return paramsMismatch(r)
		}
		if p.ModelID == "" {
			return fmt.Errorf("%w: model_id is required", ErrInvalidJobRequest)
		}
		if len(p.DatasetIDs) == 0 {
			return fmt.Errorf("%w: at least one dataset is required", ErrInvalidJobRequest)
		}
	case TaskTypeEvaluation:
		p, ok := r.Params.(EvaluationParams)
		if !ok {
			return paramsMismatch(r)
		}
		if p.ModelID == "" || p.DatasetID == "" {
			return fmt.Errorf("%w: model_id and dataset_id are required", ErrInvalidJobRequest)
		}
	case TaskTypeSynthesis:
		p, ok := r.Params.(SynthesisParams)
		if !ok {
			return paramsMismatch(r)
		}
		if p.OutputName == "" {
			return fmt.Errorf("%w: output_name is required", ErrInvalidJobRequest)
		}
		if p.NumSamples <= 0 {
			return fmt.Errorf("%w: num_samples must be positive", ErrInvalidJobRequest)
		}
	case TaskTypeModelUpload:
		p, ok := r.Params.(ModelUploadParams)
		if !ok {
			return paramsMismatch(r)
		}
		if p.Name == "" || len(p.FileIDs) == 0 {
			return fmt.Errorf("%w: name and at least one file are required", ErrInvalidJobRequest)
		}
	case TaskTypeDatasetUpload:
		p, ok := r.Params.(DatasetUploadParams)
		if !ok {
			return paramsMismatch(r)
		}
		if p.Name == "" || len(p.FileIDs) == 0 {
			return fmt.Errorf("%w: name and at least one file are required", ErrInvalidJobRequest)
		}
	default:
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidJobRequest, r.Type)
	}
	return nil
}

func paramsMismatch(r JobRequest) error {
	return fmt.Errorf("%w: params %T do not match task type %q", ErrInvalidJobRequest, r.Params, r.Type)
}
