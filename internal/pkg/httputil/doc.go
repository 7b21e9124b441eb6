// Package httputil provides JSON response helpers shared by all HTTP
// handlers. Success payloads are wrapped in a {"data": ...} envelope; errors
// use a flat {"error": ...} shape and never leak internal detail.
package httputil
