package tcmagent

import (
	"context"
	"encoding/json"
)

type recordedCall struct {
	system   string
	messages []Message
}

// scriptedCaller answers by the system prompt of each transcript. Queued
// replies are consumed in order; the final one repeats. Unrouted prompts get
// an empty Object, like a failed call.
type scriptedCaller struct {
	replies  map[string][]string
	handlers map[string]func(call int, messages []Message) string
	counts   map[string]int
	history  []recordedCall
	calls    int
}

func (s *scriptedCaller) on(system string, replies ...string) *scriptedCaller {
	if s.replies == nil {
		s.replies = make(map[string][]string)
	}
	s.replies[system] = append(s.replies[system], replies...)
	return s
}

func (s *scriptedCaller) handle(system string, fn func(call int, messages []Message) string) *scriptedCaller {
	if s.handlers == nil {
		s.handlers = make(map[string]func(int, []Message) string)
	}
	s.handlers[system] = fn
	return s
}

func (s *scriptedCaller) Call(_ context.Context, messages []Message) Object {
	s.calls++
	system := ""
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		system = messages[0].Content
	}
	s.history = append(s.history, recordedCall{system: system, messages: append([]Message(nil), messages...)})
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[system]++
	n := s.counts[system]

	var reply string
	if fn, ok := s.handlers[system]; ok {
		reply = fn(n, messages)
	} else if queue := s.replies[system]; len(queue) > 0 {
		if n <= len(queue) {
			reply = queue[n-1]
		} else {
			reply = queue[len(queue)-1]
		}
	}
	if reply == "" {
		return Object{}
	}
	var obj Object
	if err := json.Unmarshal([]byte(reply), &obj); err != nil {
		panic("bad scripted reply: " + reply)
	}
	return obj
}

func (s *scriptedCaller) count(system string) int {
	return s.counts[system]
}

func (s *scriptedCaller) callsTo(system string) []recordedCall {
	var out []recordedCall
	for _, c := range s.history {
		if c.system == system {
			out = append(out, c)
		}
	}
	return out
}

func (s *scriptedCaller) lastUser(system string) string {
	calls := s.callsTo(system)
	if len(calls) == 0 {
		return ""
	}
	msgs := calls[len(calls)-1].messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
