// Package apiclient provides typed CRUD access to the system API.
//
// A single Client owns the HTTP transport, bearer token injection, and
// the 401 unauthorized hook; Resource[T] layers typed List / GetByID /
// Create / Update / Delete operations over one resource path. Auth
// endpoints are not served here: the identity flow lives in the session
// package with its own error taxonomy and no 401 hook.
package apiclient
