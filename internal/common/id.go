package common

import (
	"github.com/google/uuid"
)

// NewBatchID generates a unique batch task ID with the "bat_" prefix
// Format: bat_<uuid>
func NewBatchID() string {
	return "bat_" + uuid.New().String()
}

// NewSubTaskID generates a unique subtask ID with the "sub_" prefix
// Format: sub_<uuid>
func NewSubTaskID() string {
	return "sub_" + uuid.New().String()
}
