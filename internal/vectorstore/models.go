package vectorstore

// Payload keys written by the embed pipeline and read back by the query
// core. Unknown keys round-trip untouched but are never read.
const (
	KeyURL            = "url"
	KeyTitle          = "title"
	KeyDomain         = "domain"
	KeySourceCommand  = "source_command"
	KeySourceType     = "source_type"
	KeyContentType    = "content_type"
	KeyChunkIndex     = "chunk_index"
	KeyTotalChunks    = "total_chunks"
	KeyChunkHeader    = "chunk_header"
	KeyChunkText      = "chunk_text"
	KeySourcePathRel  = "source_path_rel"
	KeyFileName       = "file_name"
	KeyFileExt        = "file_ext"
	KeyFileSizeBytes  = "file_size_bytes"
	KeyFileModifiedAt = "file_modified_at"
	KeyScrapedAt      = "scraped_at"
	KeyIngestID       = "ingest_id"
	KeyIngestRoot     = "ingest_root"
)

// Point is one row in the vector store. The id is a deterministic UUID
// derived from (sourceID, chunkIndex) so repeated upserts overwrite.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Record is one scrolled point without a score.
type Record struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}
