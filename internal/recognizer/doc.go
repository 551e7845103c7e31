// Package recognizer drives recognition sessions against the speech service.
//
// A Recognizer owns one session.RequestSession and creates a new
// transport.Connection per attempt: it authenticates, connects, sends the
// speech.config and speech.context messages, then runs the audio send loop,
// the service receive loop and an activity watchdog until the session
// completes, is canceled, or the connection drops and is retried with the
// unacknowledged audio replayed.
//
// Scenario implementations (speech, translation) parse the scenario-specific
// service messages and deliver typed results.
package recognizer
