// Package device provides the link transports a recording session runs on:
// a go-ble backed client for a real telemetry peripheral and an in-process
// simulator that emits well-formed frames.
//
// Both implement session.Transport. Connection failures reported by the host
// stack are mapped onto ConnectionError values by NormalizeError so callers
// can branch with errors.Is.
package device
