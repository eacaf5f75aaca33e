package gateway

import (
	"fmt"
	"net/url"

	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// kindSegment maps a task type to the path segment the gateway uses for it,
// both for submission (/jobs/{kind}) and status lookups.
func kindSegment(t models.TaskType) (string, error) {
	switch t {
	case models.TaskTypeDatasetUpload:
		return "dataset-upload", nil
	case models.TaskTypeModelUpload:
		return "model-upload", nil
	case models.TaskTypeTraining:
		return "training", nil
	case models.TaskTypeEvaluation:
		return "evaluation", nil
	case models.TaskTypeSynthesis:
		return "synthesis", nil
	}
	return "", fmt.Errorf("%w: unknown task type %q", models.ErrInvalidJobRequest, t)
}

// statusPath returns the type-specific status endpoint for a task.
func statusPath(t models.TaskType, id string) (string, error) {
	kind, err := kindSegment(t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/tasks/%s/%s/status", kind, url.PathEscape(id)), nil
}

// KindFromSegment is the inverse of kindSegment, used to parse {kind} URL params.
func KindFromSegment(seg string) (models.TaskType, bool) {
	for _, t := range models.TaskTypes {
		if s, _ := kindSegment(t); s == seg {
			return t, true
		}
	}
	return "", false
}
