/*
Package orchestration implements the Orchestration Engine: task
submission, a priority queue with dependency gating, agent selection
against pkg/connector, retry with backoff, and session accumulation of
agent responses.

# State Machine

	Pending → Queued → Processing → Running → Completed
	                              ↘ Failed → Retrying → Queued
	                              ↘ Cancelled

A task starts Pending if any dependency is not yet Completed, or
Queued otherwise. ProcessNext is the only path from Queued to Running;
Complete and Fail are the only paths out of Running.

# Concurrency

Multiple callers may call ProcessNext concurrently; dequeue-and-mark
is atomic under Engine's mutex, so a task in Processing/Running is
never visible to two callers at once. Session-response append is
sequentially consistent per task ID.
*/
package orchestration
