// Package authz implements the hierarchical role authorisation model.
//
// Manage-permission decisions compare integer role priorities from a
// static table: an actor may manage a target when the actor's highest
// role priority is greater than or equal to the target's. Protected
// (built-in) roles form a separate axis and can never be renamed or
// deleted regardless of priority.
//
// The package is pure: no I/O, no state mutation after construction.
package authz
