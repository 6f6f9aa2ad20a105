package protocol

import "github.com/kirillkom/agentic-rag-assistant/internal/core/domain"

type MessageType string

const (
	TypeIngestRequest     MessageType = "INGEST_REQUEST"
	TypeEmbedRequest      MessageType = "EMBED_REQUEST"
	TypeIngestComplete    MessageType = "INGEST_COMPLETE"
	TypeRetrievalRequest  MessageType = "RETRIEVAL_REQUEST"
	TypeRetrievalResponse MessageType = "RETRIEVAL_RESPONSE"
	TypeGenerateRequest   MessageType = "GENERATE_REQUEST"
	TypeGenerateResponse  MessageType = "GENERATE_RESPONSE"
)

// Payload is the typed body of a message. The set of implementations is closed:
// one struct per MessageType, all defined in this package.
type Payload interface {
	Type() MessageType
	sealed()
}

type IngestRequest struct {
	FilePaths []string `json:"file_paths"`
}

type EmbedRequest struct {
	Chunks   []string               `json:"chunks"`
	Metadata []domain.ChunkMetadata `json:"metadata"`
}

type IngestComplete struct {
	Added int `json:"added"`
	Total int `json:"total"`
}

type RetrievalRequest struct {
	Query string `json:"query"`
}

type RetrievalResponse struct {
	Query            string   `json:"query"`
	RetrievedContext []string `json:"retrieved_context"`
}

type GenerateRequest struct {
	Query         string   `json:"query"`
	ContextChunks []string `json:"context_chunks"`
}

type GenerateResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (IngestRequest) Type() MessageType     { return TypeIngestRequest }
func (EmbedRequest) Type() MessageType      { return TypeEmbedRequest }
func (IngestComplete) Type() MessageType    { return TypeIngestComplete }
func (RetrievalRequest) Type() MessageType  { return TypeRetrievalRequest }
func (RetrievalResponse) Type() MessageType { return TypeRetrievalResponse }
func (GenerateRequest) Type() MessageType   { return TypeGenerateRequest }
func (GenerateResponse) Type() MessageType  { return TypeGenerateResponse }

func (IngestRequest) sealed()     {}
func (EmbedRequest) sealed()      {}
func (IngestComplete) sealed()    {}
func (RetrievalRequest) sealed()  {}
func (RetrievalResponse) sealed() {}
func (GenerateRequest) sealed()   {}
func (GenerateResponse) sealed()  {}
