// Package types holds the shared data model for the control plane:
// port allocations, managed service instances, cloud connectors, tasks
// and their sessions. Mirrors the shape of the teacher's
// pkg/types/types.go, generalized from container-orchestration
// entities (Node/Service/Container) to control-plane entities
// (ServiceInstance/Task/AgentResponse).
package types

import "time"

// ServiceType is the closed enum of internal service kinds the
// Hypervisor and Port Registry know about. Each has a fixed port range
// (see pkg/portregistry).
type ServiceType string

const (
	ServiceRestAPI    ServiceType = "rest_api"
	ServiceWebSocket  ServiceType = "websocket"
	ServiceGRPC       ServiceType = "grpc_service"
	ServiceAnalytics  ServiceType = "analytics"
	ServiceSecurity   ServiceType = "security"
	ServiceCustomKind ServiceType = "custom"
)

// AllocationStatus is the lifecycle state of a PortAllocation.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "active"
	AllocationDraining AllocationStatus = "draining"
	AllocationExpired  AllocationStatus = "expired"
)

// PortAllocation is a claim on a (Host, Port) pair owned by one
// ServiceName, kept alive by Heartbeat.
type PortAllocation struct {
	AllocationID  string
	ServiceName   string
	ServiceType   ServiceType
	Port          int
	Host          string
	Status        AllocationStatus
	LeaseStart    time.Time
	LastHeartbeat time.Time
	TTL           time.Duration
}

// ServiceStatus is the lifecycle state of a ServiceInstance, managed
// exclusively by the Hypervisor.
type ServiceStatus string

const (
	StatusInitializing    ServiceStatus = "initializing"
	StatusStarting        ServiceStatus = "starting"
	StatusRunning         ServiceStatus = "running"
	StatusDegraded        ServiceStatus = "degraded"
	StatusFailed          ServiceStatus = "failed"
	StatusStopping        ServiceStatus = "stopping"
	StatusStopped         ServiceStatus = "stopped"
	StatusCriticalFailure ServiceStatus = "critical_failure"
)

// ServiceInstance is a managed internal service owned by the
// Hypervisor.
type ServiceInstance struct {
	ID               string
	Name             string
	ServiceType      ServiceType
	Status           ServiceStatus
	Port             *int
	PID              *int
	StartTime        time.Time
	LastHeartbeat    time.Time
	RestartCount     int
	HealthURL        string
	Dependencies     []string
	FailureThreshold int
	AutoRestart      bool
}

// CloudProvider is the closed enum of supported connector providers.
type CloudProvider string

const (
	ProviderAWS     CloudProvider = "aws"
	ProviderAzure   CloudProvider = "azure"
	ProviderGCP     CloudProvider = "gcp"
	ProviderVSphere CloudProvider = "vsphere"
)

// TaskType is the closed enum of task hints accepted by the
// Orchestration Engine. Semantics belong to the agents, not the core.
type TaskType string

const (
	TaskDiscovery      TaskType = "discovery"
	TaskCostAnalysis   TaskType = "cost_analysis"
	TaskRecommendation TaskType = "recommendation"
	TaskRemediation    TaskType = "remediation"
	TaskPlanning       TaskType = "planning"
)

// TaskStatus is the state machine described in spec §4.3.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskRetrying   TaskStatus = "retrying"
)

// Task is a unit of work tracked by the Orchestration Engine from
// submission through a terminal status.
type Task struct {
	ID            string
	TaskType      TaskType
	Priority      int // 0..100
	CreatedAt     time.Time
	ScheduledFor  *time.Time
	Dependencies  []string
	Parameters    map[string]any
	Status        TaskStatus
	AssignedAgent string
	MaxRetries    int
	CurrentRetry  int
	LastError     string
}

// IsTerminal reports whether the task has reached a status it can
// never leave.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// AgentResponse is one agent's contribution to a task's session.
type AgentResponse struct {
	AgentID    string
	AgentType  string
	Response   string
	Confidence float64
	Metadata   map[string]string
	ArrivedAt  time.Time
}

// Capability is a single named ability a connector declares, used by
// the orchestration engine's required_capabilities matching.
type Capability string
