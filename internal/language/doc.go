// Package language normalizes language codes between the forms the pipeline
// touches: ISO 639-1 for configuration and translation prompts, ISO 639-2
// for container subtitle metadata, and English display names for the CLI.
package language
