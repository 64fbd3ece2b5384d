package model

import "time"

// Wire types shared by the API, the store and the solve runner.

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InstanceIn uploads an instance either as raw .vrp text or as
// structured data. Index 0 of Positions and Demands is the depot.
type InstanceIn struct {
	TenantID  string    `json:"tenantId,omitempty"`
	Name      string    `json:"name"`
	Data      string    `json:"data,omitempty"`
	Capacity  float64   `json:"capacity,omitempty"`
	Positions []Point   `json:"positions,omitempty"`
	Demands   []float64 `json:"demands,omitempty"`
}

type InstanceRecord struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Capacity    float64   `json:"capacity"`
	TotalDemand float64   `json:"totalDemand"`
	Data        string    `json:"data,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SolveRequest starts a branch-and-cut run. Zero values fall back to the
// tenant's solver config and then to the service defaults.
type SolveRequest struct {
	TenantID             string  `json:"tenantId,omitempty"`
	InstanceID           string  `json:"instanceId"`
	TimeLimitSec         float64 `json:"timeLimitSec,omitempty"`
	LazyConstraints      *bool   `json:"lazyConstraints,omitempty"`
	CutBound             string  `json:"cutBound,omitempty"`
	SingleCustomerRoutes *bool   `json:"singleCustomerRoutes,omitempty"`
	WarmStart            *bool   `json:"warmStart,omitempty"`
	MaxNodes             int     `json:"maxNodes,omitempty"`
	Seed                 int64   `json:"seed,omitempty"`
}

// Job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

type SolveJob struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenantId"`
	InstanceID string       `json:"instanceId"`
	Status     string       `json:"status"`
	Request    SolveRequest `json:"request"`
	Result     *SolveResult `json:"result,omitempty"`
	Progress   *Progress    `json:"progress,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j SolveJob) Done() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

type RouteOut struct {
	Customers []int   `json:"customers"`
	Demand    float64 `json:"demand"`
	Cost      float64 `json:"cost"`
}

type SolveResult struct {
	Routes       []RouteOut `json:"routes"`
	TotalCost    float64    `json:"totalCost"`
	Vehicles     int        `json:"vehicles"`
	Objective    float64    `json:"objective"`
	Bound        float64    `json:"bound,omitempty"`
	SearchStatus string     `json:"searchStatus"`
	Optimal      bool       `json:"optimal"`
	Nodes        int        `json:"nodes"`
	LPs          int        `json:"lps"`
	LazyCuts     int        `json:"lazyCuts"`
	RuntimeMs    int64      `json:"runtimeMs"`
	Overload     []int      `json:"overload,omitempty"`
}

// Progress is the latest incumbent of a running job.
type Progress struct {
	Objective float64 `json:"objective"`
	Bound     float64 `json:"bound"`
	TotalCost float64 `json:"totalCost"`
	Vehicles  int     `json:"vehicles"`
	Nodes     int     `json:"nodes"`
	LazyCuts  int     `json:"lazyCuts"`
	ElapsedMs int64   `json:"elapsedMs"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
