package domain

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	Source string `json:"source"`
}

// ChunkRecord is the text stored at the same position as its vector in the index.
// Records are immutable once created.
type ChunkRecord struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// UploadedFile is a document accepted into upload storage.
type UploadedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}
