package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OperationState is the lifecycle state of a timelock operation
type OperationState string

const (
	OperationUnset   OperationState = "unset"
	OperationWaiting OperationState = "waiting"
	OperationReady   OperationState = "ready"
	OperationDone    OperationState = "done"
)

// DoneTimestamp is the sentinel timestamp a TimelockController stores for
// executed operations.
const DoneTimestamp = 1

// OperationStatus is the observed state of a timelock operation
type OperationStatus struct {
	ID        common.Hash
	State     OperationState
	Timestamp uint64    // raw timestamp stored by the timelock
	ReadyAt   time.Time // zero unless waiting or ready
}

// StateFor derives the operation state from the stored timestamp and the
// current block time.
func StateFor(timestamp uint64, now uint64) OperationState {
	switch {
	case timestamp == 0:
		return OperationUnset
	case timestamp == DoneTimestamp:
		return OperationDone
	case timestamp > now:
		return OperationWaiting
	default:
		return OperationReady
	}
}

// ProxyKind identifies the proxy pattern fronting an implementation
type ProxyKind string

const (
	ProxyKindUUPS        ProxyKind = "uups"
	ProxyKindTransparent ProxyKind = "transparent"
)

// ParseProxyKind parses a proxy kind name
func ParseProxyKind(s string) (ProxyKind, error) {
	switch ProxyKind(strings.ToLower(s)) {
	case ProxyKindUUPS, "":
		return ProxyKindUUPS, nil
	case ProxyKindTransparent:
		return ProxyKindTransparent, nil
	default:
		return "", fmt.Errorf("unknown proxy kind %q", s)
	}
}

// NetworkKind distinguishes the in-process chain from RPC endpoints
type NetworkKind string

const (
	NetworkInProcess NetworkKind = "in-process"
	NetworkRPC       NetworkKind = "rpc"
)

// ZeroAddress is the address reported by owner() before initialization
var ZeroAddress = common.Address{}
