// Package audio handles the outbound audio path of a recognition session.
// It implements the chunk stream fed by capture sources, float-to-PCM
// resampling, streaming RIFF/WAV framing, and the replay buffer that retains
// unacknowledged audio so it can be resent after a reconnect.
package audio
