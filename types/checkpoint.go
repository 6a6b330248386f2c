package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Checkpoint is the progress snapshot carried by host heartbeats.
//
// ProgressCount never decreases within one thread. CheckpointID is an opaque
// handle into the task's own persisted state and only checkpoint-capable
// adapters interpret it.
type Checkpoint struct {
	ThreadID      string `json:"thread_id"`
	CheckpointID  string `json:"checkpoint_id,omitempty"`
	ProgressCount int    `json:"progress_count"`
	LastUnitName  string `json:"last_unit_name,omitempty"`
}

// NewCheckpoint returns a fresh checkpoint for a thread with zero progress.
func NewCheckpoint(threadID string) *Checkpoint {
	return &Checkpoint{ThreadID: threadID}
}

// Clone returns a value copy safe to hand to the host.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// HasHandle reports whether the checkpoint references external state.
func (c *Checkpoint) HasHandle() bool {
	return c != nil && c.CheckpointID != ""
}

// Apply folds a step result into the checkpoint.
func (c *Checkpoint) Apply(step StepResult) {
	c.ProgressCount = step.StepNumber
	c.LastUnitName = step.StepName
	if step.ExternalCheckpointID != "" {
		c.CheckpointID = step.ExternalCheckpointID
	}
}

// Encode serializes the checkpoint into a heartbeat payload.
func (c *Checkpoint) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// legacyCheckpoint accepts payloads written with the older field names.
type legacyCheckpoint struct {
	ThreadID       string  `json:"thread_id"`
	CheckpointID   *string `json:"checkpoint_id"`
	ProgressCount  *int    `json:"progress_count"`
	LastUnitName   *string `json:"last_unit_name"`
	SuperstepCount *int    `json:"superstep_count"`
	CurrentNode    *string `json:"current_node"`
}

// DecodeCheckpoint parses a heartbeat payload. An empty payload yields
// (nil, nil): the thread has no prior progress.
func DecodeCheckpoint(details []byte) (*Checkpoint, error) {
	if len(details) == 0 {
		return nil, nil
	}

	var raw legacyCheckpoint
	if err := json.Unmarshal(details, &raw); err != nil {
		return nil, NewError(ErrCheckpointDecode, "malformed heartbeat payload").WithCause(err)
	}
	if raw.ThreadID == "" {
		return nil, NewError(ErrCheckpointDecode, "heartbeat payload has no thread_id")
	}

	cp := &Checkpoint{ThreadID: raw.ThreadID}
	if raw.CheckpointID != nil {
		cp.CheckpointID = *raw.CheckpointID
	}
	switch {
	case raw.ProgressCount != nil:
		cp.ProgressCount = *raw.ProgressCount
	case raw.SuperstepCount != nil:
		cp.ProgressCount = *raw.SuperstepCount
	}
	switch {
	case raw.LastUnitName != nil:
		cp.LastUnitName = *raw.LastUnitName
	case raw.CurrentNode != nil:
		cp.LastUnitName = *raw.CurrentNode
	}
	if cp.ProgressCount < 0 {
		return nil, NewError(ErrCheckpointDecode, fmt.Sprintf("negative progress_count %d", cp.ProgressCount))
	}
	return cp, nil
}

// StepResult is the per-step progress event an adapter yields. It is never
// persisted on its own; the runner folds it into the Checkpoint.
type StepResult struct {
	StepNumber           int    `json:"step_number"`
	StepName             string `json:"step_name"`
	ExternalCheckpointID string `json:"external_checkpoint_id,omitempty"`
}

var (
	errStepNumber = errors.New("step_number must be >= 1")
	errStepName   = errors.New("step_name must not be empty")
)

// Validate rejects step numbers below 1 and empty step names.
func (s StepResult) Validate() error {
	if s.StepNumber < 1 {
		return errStepNumber
	}
	if s.StepName == "" {
		return errStepName
	}
	return nil
}
