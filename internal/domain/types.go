// Package domain provides the engine's entity models.
//
// Entities are transient views over store rows: ToRow renders the persisted
// shape and the XFromRow functions decode it back.
//
// Import Path: fleetd.io/fleetd/internal/domain
package domain

// ClusterStatus is the lifecycle status of a cluster.
type ClusterStatus string

const (
	ClusterInit     ClusterStatus = "INIT"
	ClusterActive   ClusterStatus = "ACTIVE"
	ClusterWarning  ClusterStatus = "WARNING"
	ClusterError    ClusterStatus = "ERROR"
	ClusterUpdating ClusterStatus = "UPDATING"
	ClusterDeleting ClusterStatus = "DELETING"
	ClusterDeleted  ClusterStatus = "DELETED" // terminal
)

// NodeStatus is the lifecycle status of a node.
type NodeStatus string

const (
	NodeInit     NodeStatus = "INIT"
	NodeActive   NodeStatus = "ACTIVE"
	NodeError    NodeStatus = "ERROR"
	NodeUpdating NodeStatus = "UPDATING"
	NodeDeleting NodeStatus = "DELETING"
	NodeDeleted  NodeStatus = "DELETED"
)

// ActionStatus is the status of an action.
type ActionStatus string

const (
	ActionInit      ActionStatus = "INIT"
	ActionReady     ActionStatus = "READY"
	ActionRunning   ActionStatus = "RUNNING"
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
	ActionCancelled ActionStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionSucceeded, ActionFailed, ActionCancelled:
		return true
	}
	return false
}

// Cause records where an action came from.
type Cause string

const (
	CauseRPC      Cause = "RPC"
	CauseInternal Cause = "INTERNAL"
)

// ActionKind names the operation an action performs.
type ActionKind string

const (
	ClusterCreate   ActionKind = "CLUSTER_CREATE"
	ClusterUpdate   ActionKind = "CLUSTER_UPDATE"
	ClusterDelete   ActionKind = "CLUSTER_DELETE"
	ClusterAddNodes ActionKind = "CLUSTER_ADD_NODES"
	ClusterDelNodes ActionKind = "CLUSTER_DEL_NODES"
	ClusterScaleOut ActionKind = "CLUSTER_SCALE_OUT"
	ClusterScaleIn  ActionKind = "CLUSTER_SCALE_IN"

	NodeCreate ActionKind = "NODE_CREATE"
	NodeDelete ActionKind = "NODE_DELETE"
	NodeUpdate ActionKind = "NODE_UPDATE"
	NodeJoin   ActionKind = "NODE_JOIN"
	NodeLeave  ActionKind = "NODE_LEAVE"
)

// TargetsCluster reports whether the action's target is a cluster id.
func (k ActionKind) TargetsCluster() bool {
	switch k {
	case ClusterCreate, ClusterUpdate, ClusterDelete, ClusterAddNodes,
		ClusterDelNodes, ClusterScaleOut, ClusterScaleIn:
		return true
	}
	return false
}

// Control is the cooperative control flag of a running action.
type Control string

const (
	ControlNone   Control = ""
	ControlCancel Control = "CANCEL"
)

// Event levels.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)
