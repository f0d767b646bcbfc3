package domain

import "time"

// Element is one value flowing through a pipeline node, together with its
// windowing metadata. Value must be representable by the configured codec
// (the default codec round-trips anything encoding/json would).
type Element struct {
	Value     any       `json:"value"`
	EventTime time.Time `json:"event_time"`
	Window    string    `json:"window,omitempty"`
}

// StripWindowInfo returns a copy of e without windowing metadata.
// Readers use it when the caller did not ask for window info.
func (e Element) StripWindowInfo() Element {
	return Element{Value: e.Value}
}
