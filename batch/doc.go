// Package batch orchestrates groups of jobs that share a batch id.
//
// A [Processor] is built only on the queue's public operations. It never
// touches storage directly. Batch state is derived from the batch's jobs
// on every read; nothing about a batch is stored.
package batch
