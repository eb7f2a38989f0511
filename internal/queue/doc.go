// Package queue provides the blocking FIFO queue that feeds synthesis tasks
// to worker processes.
package queue
