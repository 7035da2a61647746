package models

import "time"

// Image is an immutable template observed from the runtime. Identity is ID.
type Image struct {
	ID      string            `json:"id"`
	Tags    []string          `json:"tags"`
	Labels  map[string]string `json:"labels"`
	Created time.Time         `json:"created"`
	Size    int64             `json:"size"`
}
