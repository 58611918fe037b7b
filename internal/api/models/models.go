// Package models holds the request and response bodies of the status API.
package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-15T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"12345" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionData struct {
	SessionID string    `json:"session_id" example:"5f0c2b1e-8d3a-4c36-9a57-1f3c0e2d9b11" doc:"Session instance identifier"`
	DomID     uint32    `json:"dom_id" example:"3" doc:"Guest domain id"`
	DevID     uint32    `json:"dev_id" example:"0" doc:"Frontend device index within the domain"`
	UniqueID  string    `json:"unique_id" example:"video0" doc:"Physical device identifier"`
	Controls  []string  `json:"controls" example:"[\"brightness\",\"contrast\"]" doc:"Controls assigned to the session"`
	Buffers   int       `json:"buffers" example:"4" doc:"Guest buffers mapped"`
	Queued    []uint32  `json:"queued" doc:"Buffer indexes queued for capture, in order"`
	Streaming bool      `json:"streaming" example:"true" doc:"Whether the session streams"`
	Sequence  uint32    `json:"sequence" example:"1024" doc:"Frames delivered to the guest"`
	Opened    time.Time `json:"opened" doc:"When the session was created"`
}

type SessionListData struct {
	Sessions []SessionData `json:"sessions" doc:"Bound frontend sessions"`
	Count    int           `json:"count" example:"2" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

// Log models
type LogEntryData struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number"`
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"broker" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogsInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Number of most recent entries"`
}

type LogsResponse struct {
	Body struct {
		Logs  []LogEntryData `json:"logs" doc:"Most recent log entries, oldest first"`
		Count int            `json:"count" example:"100" doc:"Number of entries returned"`
	}
}
