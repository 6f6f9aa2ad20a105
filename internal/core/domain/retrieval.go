package domain

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	Position int         `json:"position"`
	Distance float32     `json:"distance"`
	Record   ChunkRecord `json:"record"`
}

// IndexSnapshot is the parallel vector/record state of an index.
// len(Vectors) == len(Records) and every vector has Dimension components.
type IndexSnapshot struct {
	Dimension int
	Vectors   [][]float32
	Records   []ChunkRecord
}

func (s IndexSnapshot) Len() int {
	return len(s.Records)
}
