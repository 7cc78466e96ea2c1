package executor

import (
	"strings"

	"github.com/nightshift/backend/internal/domain"
	"github.com/tidwall/gjson"
)

// EventKind tags what a line of agent output carried.
type EventKind int

const (
	EventText EventKind = iota
	EventUsage
	EventCapabilityCall
	EventUnstructured
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventUsage:
		return "usage"
	case EventCapabilityCall:
		return "capability_call"
	default:
		return "unstructured"
	}
}

// Event is one classified fragment of the agent's output stream.
type Event struct {
	Kind EventKind

	// Text holds the assistant text for EventText and the raw line for
	// EventUnstructured.
	Text string

	// Usage events. MessageID groups the repeated usage block the agent emits
	// with every content fragment of one message. Final marks the run total
	// reported by the closing result line.
	Usage     domain.Usage
	MessageID string
	Final     bool
	IsError   bool
	Result    string

	Call domain.CapabilityCall
}

// Classify turns one output line into zero or more events. It never fails:
// anything that is not a recognised event comes back as EventUnstructured.
func Classify(line string) []Event {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if !gjson.Valid(line) {
		return []Event{{Kind: EventUnstructured, Text: line}}
	}
	doc := gjson.Parse(line)
	if !doc.IsObject() {
		return []Event{{Kind: EventUnstructured, Text: line}}
	}

	switch doc.Get("type").String() {
	case "assistant":
		return classifyAssistant(doc, line)
	case "result":
		return []Event{{
			Kind:    EventUsage,
			Usage:   finalUsage(doc),
			Final:   true,
			IsError: doc.Get("is_error").Bool(),
			Result:  doc.Get("result").String(),
		}}
	case "user", "system":
		// Tool results echoed back and session metadata carry nothing the
		// result needs beyond the raw transcript.
		return nil
	default:
		return []Event{{Kind: EventUnstructured, Text: line}}
	}
}

func classifyAssistant(doc gjson.Result, line string) []Event {
	msg := doc.Get("message")
	if !msg.Exists() {
		return []Event{{Kind: EventUnstructured, Text: line}}
	}

	var events []Event
	for _, block := range msg.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			if text := block.Get("text").String(); text != "" {
				events = append(events, Event{Kind: EventText, Text: text})
			}
		case "tool_use":
			events = append(events, Event{
				Kind: EventCapabilityCall,
				Call: domain.CapabilityCall{
					ID:        block.Get("id").String(),
					Name:      block.Get("name").String(),
					Arguments: block.Get("input").Raw,
				},
			})
		}
	}
	if u := msg.Get("usage"); u.Exists() {
		events = append(events, Event{
			Kind:      EventUsage,
			Usage:     parseUsage(u),
			MessageID: msg.Get("id").String(),
		})
	}
	return events
}

func parseUsage(u gjson.Result) domain.Usage {
	return domain.Usage{
		InputTokens:         u.Get("input_tokens").Int(),
		OutputTokens:        u.Get("output_tokens").Int(),
		CacheReadTokens:     u.Get("cache_read_input_tokens").Int(),
		CacheCreationTokens: u.Get("cache_creation_input_tokens").Int(),
	}
}

func finalUsage(doc gjson.Result) domain.Usage {
	u := parseUsage(doc.Get("usage"))
	u.Turns = int(doc.Get("num_turns").Int())
	u.CostUSD = doc.Get("total_cost_usd").Float()
	if u.CostUSD == 0 {
		u.CostUSD = doc.Get("cost_usd").Float()
	}
	return u
}

// Aggregate folds events into the output half of an ExecutionResult: text
// joined in order, capability calls in order, unstructured lines kept as
// logs. Usage is summed per message unless the stream reported a final total.
func Aggregate(events []Event) domain.ExecutionResult {
	var res domain.ExecutionResult
	var texts []string
	var final *Event
	perMessage := make(map[string]domain.Usage)
	var order []string
	var anonymous domain.Usage

	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case EventText:
			texts = append(texts, ev.Text)
		case EventCapabilityCall:
			res.ToolCalls = append(res.ToolCalls, ev.Call)
		case EventUnstructured:
			res.Logs = append(res.Logs, ev.Text)
		case EventUsage:
			switch {
			case ev.Final:
				final = ev
			case ev.MessageID == "":
				anonymous = addUsage(anonymous, ev.Usage)
			default:
				if _, ok := perMessage[ev.MessageID]; !ok {
					order = append(order, ev.MessageID)
				}
				perMessage[ev.MessageID] = ev.Usage
			}
		}
	}

	res.Text = strings.Join(texts, "\n")
	if final != nil {
		res.Usage = final.Usage
		if res.Text == "" {
			res.Text = final.Result
		}
		if final.IsError {
			res.Error = "agent reported an error result"
		}
		return res
	}

	res.Usage = anonymous
	for _, id := range order {
		res.Usage = addUsage(res.Usage, perMessage[id])
		res.Usage.Turns++
	}
	return res
}

func addUsage(a, b domain.Usage) domain.Usage {
	a.InputTokens += b.InputTokens
	a.OutputTokens += b.OutputTokens
	a.CacheReadTokens += b.CacheReadTokens
	a.CacheCreationTokens += b.CacheCreationTokens
	a.CostUSD += b.CostUSD
	a.Turns += b.Turns
	return a
}
