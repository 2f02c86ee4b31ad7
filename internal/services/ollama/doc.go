// Package ollama is the HTTP client for the translation backend. It
// translates subtitle lines one at a time and can evict the model from GPU
// memory between pipeline stages.
package ollama
