// Package spooled provides the shared data model and version gate for the
// Spooled job-queue SDK. The entry points of the transport, worker,
// realtime, work, health, logz, metrics and otel packages call
// AssertVersionChecked.
package spooled

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is the current release of the SDK.
const Version = "1.0.0"

var majorVersionAsserted bool

// RequireMajor crashes the process if the SDK's major version does not match
// the required version. Hosts should call this at the top of main() before
// constructing any transport, worker, or realtime component.
func RequireMajor(required int) {
	majorVersionAsserted = true
	parts := strings.SplitN(Version, ".", 2)
	actual, _ := strconv.Atoi(parts[0])
	if actual != required {
		fmt.Fprintf(os.Stderr,
			"FATAL: caller requires spooled-sdk-go v%d but v%s is installed.\n"+
				"Update the RequireMajor(%d) call after reviewing the v%d migration notes.\n",
			required, Version, actual, actual)
		os.Exit(1)
	}
}

// AssertVersionChecked crashes if RequireMajor has not been called yet.
func AssertVersionChecked() {
	if !majorVersionAsserted {
		fmt.Fprintf(os.Stderr,
			"FATAL: spooled.RequireMajor() must be called before using any spooled-sdk-go package.\n"+
				"Add spooled.RequireMajor(1) to main() before any other spooled calls.\n")
		os.Exit(1)
	}
}

// ResetVersionCheck is for testing only — resets the version assertion state.
func ResetVersionCheck() {
	majorVersionAsserted = false
}

// JobStatus enumerates the lifecycle states of a Job as observed by clients.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobScheduled  JobStatus = "scheduled"
	JobClaimed    JobStatus = "claimed"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
	JobDeadletter JobStatus = "deadletter"
)

// Job is the client's view of a queued unit of work. The server may track
// additional fields; the SDK treats Job as opaque apart from what is listed
// here.
type Job struct {
	ID             string     `json:"id"`
	QueueName      string     `json:"queueName"`
	Payload        any        `json:"payload"`
	Status         JobStatus  `json:"status"`
	RetryCount     int        `json:"retryCount"`
	MaxRetries     int        `json:"maxRetries"`
	Priority       int        `json:"priority"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
	BoostPriority  int        `json:"boostPriority,omitempty"`
}

// ClaimedJob is a Job leased to a specific worker. Exactly one worker holds a
// non-expired lease at any instant; only that worker may complete, fail, or
// renew it.
type ClaimedJob struct {
	Job
	WorkerID       string    `json:"workerId"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
}

// WorkerRegistration is the server-issued record of a running worker.
type WorkerRegistration struct {
	WorkerID              string            `json:"workerId"`
	QueueName             string            `json:"queueName"`
	Hostname              string            `json:"hostname"`
	MaxConcurrency        int               `json:"maxConcurrency"`
	HeartbeatIntervalSecs int               `json:"heartbeatIntervalSecs"`
	LeaseDurationSecs     int               `json:"leaseDurationSecs"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// Method is an HTTP verb accepted by the Transport Core.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// RequestFlags carries per-request behavior overrides for the Transport Core.
type RequestFlags struct {
	// SkipPathPrefix sends the request without prefixing "api/v1/".
	SkipPathPrefix bool
	// ForceRetryOnNonIdempotent opts a POST/PATCH request into retry even
	// though the method is not normally considered safe to retry.
	ForceRetryOnNonIdempotent bool
	// Admin marks the call as targeting an administrative resource, so the
	// Transport Core additionally attaches X-Admin-Key when one is
	// configured. Leave false for ordinary resources even when an admin key
	// is configured — the admin header is never sent unasked.
	Admin bool
}

// Topic is a subscription key in one of two built-in schemes, "job:<id>"
// and "queue:<name>", or the wildcard "*". realtime.Subscription does not
// take a Topic; its OnJob, OnQueue and OnAny registrations select the same
// events.
type Topic string

// WildcardTopic is the "*" topic, standing for every event regardless of
// type or payload.
const WildcardTopic Topic = "*"

// JobTopic builds the "job:<id>" subscription topic.
func JobTopic(jobID string) Topic { return Topic("job:" + jobID) }

// QueueTopic builds the "queue:<name>" subscription topic.
func QueueTopic(queueName string) Topic { return Topic("queue:" + queueName) }
