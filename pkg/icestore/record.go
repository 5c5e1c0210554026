package icestore

import "time"

// Record is the archived form of one buffered message, written as one line
// of a batch's JSONL object.
type Record struct {
	ID          string            `json:"id"`
	PublishTime time.Time         `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Payload     []byte            `json:"payload"`
	ArchivedAt  time.Time         `json:"archivedAt"`
}
