// Package api defines the HTTP request and response DTOs for the council
// service.
//
// The wire types are deliberately thin: handlers convert them to and from the
// council package's domain types at the boundary. Event payloads stream as-is
// (council.Event marshals directly), so only the inbound shapes and the
// uniform response envelope live here.
package api
