// Package alerts maps threshold events to user notification actions.
//
// The mapping is pure: severity decides the notification level, nothing
// else. Rendering belongs to the UI collaborator.
package alerts
