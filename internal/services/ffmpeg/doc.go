// Package ffmpeg shells out to ffmpeg and ffprobe: probing media duration
// for invite accounting and muxing translated subtitles into the final
// output container.
package ffmpeg
