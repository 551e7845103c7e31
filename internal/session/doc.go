// Package session implements the per-recognizer request session: the turn
// state machine and the audio offset bookkeeping that drive retries and
// replay after reconnects.
package session
