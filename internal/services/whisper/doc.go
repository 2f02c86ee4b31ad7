// Package whisper is the HTTP client for the transcription sidecar. It
// streams progress lines during transcription and controls which device the
// model lives on so the GPU can be shared with the translation backend.
package whisper
