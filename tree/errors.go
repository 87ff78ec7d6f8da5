package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTreeMovement covers moves the tree shape cannot express.
	ErrInvalidTreeMovement = errors.New("invalid tree movement")
	// ErrInvalidOperation is returned when a frozen node would be mutated.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrRejected is matched by every compatibility rejection.
	ErrRejected = errors.New("relationship rejected")
	// ErrProtected is returned when content refuses deletion.
	ErrProtected = errors.New("content is protected from deletion")
	// ErrCorruptTree is returned when stored paths do not form a tree.
	ErrCorruptTree = errors.New("corrupt tree")
)

// MovementError describes a rejected structural move.
type MovementError struct {
	Message string
}

func (e *MovementError) Error() string {
	return e.Message
}

func (e *MovementError) Is(target error) bool {
	return target == ErrInvalidTreeMovement
}

// RootDisplacementError is returned when something would be placed beside a root.
type RootDisplacementError struct {
	NodeID string
}

func (e *RootDisplacementError) Error() string {
	return fmt.Sprintf("node %s is a root and cannot have siblings", e.NodeID)
}

func (e *RootDisplacementError) Is(target error) bool {
	return target == ErrInvalidTreeMovement
}

// FrozenError is returned by every mutation touching a frozen node.
type FrozenError struct {
	NodeID string
	Op     string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("%s: node %s is frozen", e.Op, e.NodeID)
}

func (e *FrozenError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// ParentWasRejected means the child declined to live under the parent.
type ParentWasRejected struct {
	Parent string
	Child  string
}

func (e *ParentWasRejected) Error() string {
	return fmt.Sprintf("%s refuses to be put in %s", e.Child, e.Parent)
}

func (e *ParentWasRejected) Is(target error) bool {
	return target == ErrRejected
}

// ChildWasRejected means the parent declined to adopt the child.
type ChildWasRejected struct {
	Parent string
	Child  string
}

func (e *ChildWasRejected) Error() string {
	return fmt.Sprintf("%s refuses to accept %s", e.Parent, e.Child)
}

func (e *ChildWasRejected) Is(target error) bool {
	return target == ErrRejected
}

// MutualRejection means neither side consented.
type MutualRejection struct {
	Parent string
	Child  string
}

func (e *MutualRejection) Error() string {
	return fmt.Sprintf("%s and %s refuse each other", e.Parent, e.Child)
}

func (e *MutualRejection) Is(target error) bool {
	return target == ErrRejected
}

// CheckFrozen returns a FrozenError for the first frozen node, ignoring nils.
func CheckFrozen(op string, nodes ...*Node) error {
	for _, n := range nodes {
		if n != nil && n.Frozen {
			return &FrozenError{NodeID: n.ID, Op: op}
		}
	}
	return nil
}
