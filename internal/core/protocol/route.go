package protocol

// Route is a legal sender -> receiver pair for a message type.
type Route struct {
	From Participant
	To   Participant
}

var routes = map[MessageType][]Route{
	TypeIngestRequest:     {{From: UI, To: IngestionAgent}},
	TypeEmbedRequest:      {{From: IngestionAgent, To: Coordinator}, {From: Coordinator, To: RetrievalAgent}},
	TypeIngestComplete:    {{From: RetrievalAgent, To: Coordinator}},
	TypeRetrievalRequest:  {{From: UI, To: RetrievalAgent}},
	TypeRetrievalResponse: {{From: RetrievalAgent, To: Coordinator}},
	TypeGenerateRequest:   {{From: Coordinator, To: ResponseAgent}},
	TypeGenerateResponse:  {{From: ResponseAgent, To: Coordinator}},
}

// Routes returns the legal routes for t; empty for an unknown type.
func Routes(t MessageType) []Route {
	out := make([]Route, len(routes[t]))
	copy(out, routes[t])
	return out
}

func legal(t MessageType, from, to Participant) bool {
	for _, r := range routes[t] {
		if r.From == from && r.To == to {
			return true
		}
	}
	return false
}
