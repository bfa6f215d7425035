package model

// BatchKind distinguishes grouped submissions from oversized singletons.
type BatchKind string

const (
	// BatchGrouped holds up to the configured cap of normal-size images.
	BatchGrouped BatchKind = "grouped"
	// BatchSingleton holds exactly one oversized image.
	BatchSingleton BatchKind = "singleton"
)

// BatchState is the lifecycle state of a composed batch.
type BatchState string

const (
	BatchPending         BatchState = "pending"
	BatchSubmitted       BatchState = "submitted"
	BatchCompleted       BatchState = "completed"
	BatchPartiallyFailed BatchState = "partially_failed"
)

// Batch is one inference submission: an ordered set of canonical keys.
type Batch struct {
	ID      string     `json:"id"`
	Kind    BatchKind  `json:"kind"`
	Members []string   `json:"members"`
	State   BatchState `json:"state"`
}
