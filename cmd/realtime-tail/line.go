package main

import "time"

type changeLine struct {
	Type            string         `json:"type"`
	Table           string         `json:"table"`
	CommitTimestamp time.Time      `json:"commit_timestamp"`
	New             map[string]any `json:"new,omitempty"`
	Old             map[string]any `json:"old,omitempty"`
}
