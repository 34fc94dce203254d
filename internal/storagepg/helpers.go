package storagepg

import (
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meetcast/core/internal/models"
)

func newULID() string {
	return uuid.NewString()
}

func pqStringArray(ss []string) interface{} {
	return pq.Array(ss)
}

func pqStatusArray(ss []models.RecordingStatus) interface{} {
	converted := make([]string, len(ss))
	for i, s := range ss {
		converted[i] = string(s)
	}
	return pq.Array(converted)
}
