package lobby

import (
	"time"
)

// Frame is one inbound lobby frame. Exactly one field must be set.
type Frame struct {
	Join   *Join   `json:"join,omitempty"`
	Send   *Send   `json:"send,omitempty"`
	Typing *Typing `json:"typing,omitempty"`
}

type Join struct {
	Name string `json:"name" validate:"required,max=32"`
}

type Send struct {
	Text string `json:"text" validate:"required,max=2048"`
}

type Typing struct{}

type Event struct {
	Message *ChatMessage `json:"message,omitempty"`
	Typing  *TypingEvent `json:"typing,omitempty"`
	Members *[]string    `json:"members,omitempty"`
}

type ChatMessage struct {
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text"`
	System    bool      `json:"system,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingEvent struct {
	Name string `json:"name"`
}

func (f *Frame) numEvents() int {
	n := 0
	for _, set := range []bool{f.Join != nil, f.Send != nil, f.Typing != nil} {
		if set {
			n++
		}
	}
	return n
}

func systemMessage(text string) *Event {
	return &Event{
		Message: &ChatMessage{
			Text:      text,
			System:    true,
			Timestamp: now(),
		},
	}
}

func chatMessage(name, text string) *Event {
	return &Event{
		Message: &ChatMessage{
			Name:      name,
			Text:      text,
			Timestamp: now(),
		},
	}
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
