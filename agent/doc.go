// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent defines the adapter contract that a long-running runner drives.

# Overview

An Adapter wraps one unit of resumable work. The runner calls Setup once
with the thread id and the last heartbeated checkpoint (nil on a first
attempt), iterates Run to receive StepResult progress events, and finally
reads FinalOutput. Each adapter instance is single-use; a Factory creates
a fresh instance for every attempt.

	type Adapter[In, Out any] interface {
	    SupportsCheckpointing() bool
	    Setup(ctx context.Context, threadID string, cp *types.Checkpoint) error
	    Run(ctx context.Context, input In) iter.Seq2[types.StepResult, error]
	    FinalOutput(ctx context.Context) (Out, error)
	}

# Adapters

  - GraphAdapter: drives a workflow.CompiledGraph. The graph's Saver is the
    external state store and the snapshot id is the opaque handle carried in
    checkpoints, so a retry continues from the last persisted superstep.
  - SleepingAdapter: a non-checkpointing adapter that sleeps for a number of
    steps; a retry starts from scratch.

Adapters that learn their handle during Setup implement HandleReporter so
the runner can announce it before the first step completes.

# Errors

Calling Run before Setup, calling Run twice, or reading FinalOutput before
Run finishes returns ErrNotSetup, ErrAlreadyRun or ErrNotFinished.
*/
package agent
