// Package services holds the shared error taxonomy and the clients for the
// external collaborators the worker drives: the whisper transcription sidecar,
// the ollama translation backend, and ffmpeg.
package services
