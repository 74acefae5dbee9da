// Package model defines the provider-agnostic request/response shapes for
// the OpenAI- and Anthropic-compatible chat endpoints that Ollama serves next
// to its native API.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Hide vendor SDK types from the operation layer
//   - Map SDK failures onto core.TransportError
//
// Providers (model/openai, model/anthropic) implement the Model interface so
// the operation layer stays decoupled from vendor SDKs.
package model
