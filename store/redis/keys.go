package redis

// Redis key naming conventions for clipqueue data.
// All keys are prefixed with "clipqueue:" to avoid collisions.

const keyPrefix = "clipqueue:"

// ── Job keys ──

// jobKey returns the Hash key for a job: clipqueue:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobsByCreatedKey is the Sorted Set of every job ID scored by creation
// time in microseconds. Equal scores fall back to member order, which is
// the job ID.
const jobsByCreatedKey = keyPrefix + "jobs"

// completedKey is the Sorted Set of completed job IDs scored by completion
// time in microseconds.
const completedKey = keyPrefix + "jobs:completed"

// retryLinkKey returns the key claimed by the single retry of a source
// job: clipqueue:retry:{source id}
func retryLinkKey(sourceID string) string { return keyPrefix + "retry:" + sourceID }

// ── Lock keys ──

// lockKey returns the key holding a scheduler lock: clipqueue:lock:{name}
func lockKey(name string) string { return keyPrefix + "lock:" + name }
