package protocol

// Participant names a sender or receiver of messages.
type Participant string

const (
	UI             Participant = "UI"
	Coordinator    Participant = "Coordinator"
	IngestionAgent Participant = "IngestionAgent"
	RetrievalAgent Participant = "RetrievalAgent"
	ResponseAgent  Participant = "ResponseAgent"
)

var participants = map[Participant]struct{}{
	UI:             {},
	Coordinator:    {},
	IngestionAgent: {},
	RetrievalAgent: {},
	ResponseAgent:  {},
}

func (p Participant) Known() bool {
	_, ok := participants[p]
	return ok
}

func (p Participant) String() string {
	return string(p)
}
