package api

import (
	"encoding/json"
	"time"

	"schedq/internal/store"
	"schedq/internal/utils"
)

type EnqueueTaskRequest struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"maxAttempts"`
	Delay       utils.Duration  `json:"delay"`
}

type EnqueueTaskResponse struct {
	TaskId string `json:"taskId"`
}

type DequeueTaskRequest struct {
	Lease utils.Duration `json:"lease"`
}

type DequeueTaskResponse struct {
	TaskId         string          `json:"taskId"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	Attempt        int             `json:"attempt"`
	LeaseId        string          `json:"leaseId"`
	LeaseExpiresAt time.Time       `json:"leaseExpiresAt"`
}

type AckTaskRequest struct {
	TaskId  string `in:"path=taskId"`
	LeaseId string `in:"query=leaseId"`
}

type FailTaskRequest struct {
	TaskId string      `in:"path=taskId"`
	Opts   FailureOpts `in:"body"`
}

type FailureOpts struct {
	LeaseId string `json:"leaseId"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

type ExtendLeaseRequest struct {
	TaskId string     `in:"path=taskId"`
	Opts   ExtendOpts `in:"body"`
}

type ExtendOpts struct {
	LeaseId string         `json:"leaseId"`
	Extra   utils.Duration `json:"extra"`
}

type ExtendLeaseResponse struct {
	LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
}

type CancelTaskRequest struct {
	TaskId string `in:"path=taskId"`
}

type GetTaskRequest struct {
	TaskId string `in:"path=taskId"`
}

type TaskInfo struct {
	TaskId      string          `json:"taskId"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	State       store.TaskState `json:"state"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	EligibleAt  time.Time       `json:"eligibleAt"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type GetTaskResponse TaskInfo

type ListTasksRequest struct {
	Page uint64 `in:"query=page"`
	Size uint64 `in:"query=size"`
}

type ListTasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type ListDeadLettersRequest struct {
	Limit int `in:"query=limit"`
}

type ListDeadLettersResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type StatsResponse struct {
	ReadyByPriority map[int]int `json:"readyByPriority"`
	Leased          int         `json:"leased"`
	Dead            int         `json:"dead"`
	LeaseExpiries   uint64      `json:"leaseExpiries"`
}
