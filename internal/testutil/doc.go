// Package testutil contains helpers used across tests to reduce boilerplate:
// a fake Ollama server built on net/http/httptest and a recording
// continuation. They are not intended for production usage.
package testutil
