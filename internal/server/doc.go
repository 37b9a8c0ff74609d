// Package server implements the chat relay runtime: configuration, the
// event engine that serializes all protocol work, the TCP listener, and
// the WebSocket gateway.
//
// The implementation is organized into specialized files for configuration,
// the engine, transport listeners, and origin control to keep the codebase
// maintainable and testable as the project grows.
package server
