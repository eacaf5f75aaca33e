package cache

import (
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Key is a semantic cache key such as ["tasks", "24"] or ["dataset", id].
// Invalidation by prefix matches whole segments.
type Key []string

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// String joins the segments with ":". Segments are escaped first so that
// distinct keys never share a string form.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, seg := range k {
		parts[i] = segmentEscaper.Replace(seg)
	}
	return strings.Join(parts, ":")
}

// HasPrefix reports whether every segment of prefix matches the start of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// TasksPrefix covers every task list: all windows and all filtered queries.
func TasksPrefix() Key {
	return Key{"tasks"}
}

func TasksKey(windowHours int) Key {
	return Key{"tasks", strconv.Itoa(windowHours)}
}

// TaskQueryKey addresses a filtered task list (by type and/or tag).
func TaskQueryKey(taskType models.TaskType, tag string) Key {
	return Key{"tasks", "query", string(taskType), tag}
}

func ModelsKey() Key {
	return Key{"models"}
}

func DatasetsKey() Key {
	return Key{"datasets"}
}

func ModelKey(id string) Key {
	return Key{"model", id}
}

func DatasetKey(id string) Key {
	return Key{"dataset", id}
}

// CollectionKey maps a resource collection to its list key.
func CollectionKey(c models.ResourceCollection) Key {
	switch c {
	case models.CollectionModels:
		return ModelsKey()
	case models.CollectionDatasets:
		return DatasetsKey()
	}
	return Key{string(c)}
}

func RateLimitKey(client string) string {
	return "ratelimit:" + client
}
