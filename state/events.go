package state

import "encoding/json"

// Event is one entry in the broadcast stream consumed by front-end
// observers. Every event serializes to JSON with a "status" discriminator.
type Event interface {
	// Kind returns the wire discriminator for the event.
	Kind() string
}

// Disconnected announces a (re-)entry into the disconnected state, carrying
// the reason for termination and the post-transition snapshot.
type Disconnected struct {
	Reason string
	State  AppState
}

// Kind implements Event.
func (Disconnected) Kind() string { return "DISCONNECTED" }

// MarshalJSON renders {"status":"DISCONNECTED","message":...,"state":{...}}.
func (e Disconnected) MarshalJSON() ([]byte, error) {
	var message *string
	if e.Reason != "" {
		message = &e.Reason
	}
	return json.Marshal(struct {
		Status  string   `json:"status"`
		Message *string  `json:"message"`
		State   AppState `json:"state"`
	}{e.Kind(), message, e.State})
}

// Punching ticks once per second while hole punching, counting down the
// remaining budget with a human-readable progress line.
type Punching struct {
	TimeoutSecs int
	Message     string
}

// Kind implements Event.
func (Punching) Kind() string { return "PUNCHING" }

// MarshalJSON renders {"status":"PUNCHING","timeout":N,"message":"..."}.
func (e Punching) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  string `json:"status"`
		Timeout int    `json:"timeout"`
		Message string `json:"message"`
	}{e.Kind(), e.TimeoutSecs, e.Message})
}

// Connected announces a successful handshake and carries the session
// fingerprint both users compare out of band.
type Connected struct {
	Fingerprint string
}

// Kind implements Event.
func (Connected) Kind() string { return "CONNECTED" }

// MarshalJSON renders {"status":"CONNECTED","fingerprint":"..."}.
func (e Connected) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status      string `json:"status"`
		Fingerprint string `json:"fingerprint"`
	}{e.Kind(), e.Fingerprint})
}

// Message carries one chat message in either direction.
type Message struct {
	Content string
	// FromMe is true for locally submitted messages echoed back to
	// observers, false for messages received from the peer.
	FromMe bool
}

// Kind implements Event.
func (Message) Kind() string { return "MESSAGE" }

// MarshalJSON renders {"status":"MESSAGE","content":"...","from_me":bool}.
func (e Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  string `json:"status"`
		Content string `json:"content"`
		FromMe  bool   `json:"from_me"`
	}{e.Kind(), e.Content, e.FromMe})
}

// ChatCleared tells observers to drop the current transcript. Emitted when a
// fresh session begins.
type ChatCleared struct{}

// Kind implements Event.
func (ChatCleared) Kind() string { return "CLEAR_CHAT" }

// MarshalJSON renders {"status":"CLEAR_CHAT"}.
func (e ChatCleared) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status string `json:"status"`
	}{e.Kind()})
}

// Initial is the synthetic event delivered to a subscriber before any live
// events, carrying the full snapshot so late joiners see no gap.
type Initial struct {
	State AppState
}

// Kind returns the current status token so front-ends can treat the initial
// event like any other status change.
func (e Initial) Kind() string { return e.State.Status.String() }

// MarshalJSON renders {"status":"<current>","state":{...},"initial":true}.
func (e Initial) MarshalJSON() ([]byte, error) {
	var fingerprint *string
	if e.State.Fingerprint != "" {
		fingerprint = &e.State.Fingerprint
	}
	return json.Marshal(struct {
		Status      string   `json:"status"`
		State       AppState `json:"state"`
		Initial     bool     `json:"initial"`
		Fingerprint *string  `json:"fingerprint,omitempty"`
	}{e.Kind(), e.State, true, fingerprint})
}
