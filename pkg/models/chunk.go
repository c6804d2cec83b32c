package models

// ChunkKind tags a StreamingChunk. Every agent streamer is normalized to
// this taxonomy before chunks reach the terminal.
type ChunkKind string

const (
	ChunkThinking  ChunkKind = "thinking"
	ChunkStatus    ChunkKind = "status"
	ChunkCommand   ChunkKind = "command"
	ChunkExecuting ChunkKind = "executing"
	ChunkResult    ChunkKind = "result"
	ChunkText      ChunkKind = "text"
	ChunkError     ChunkKind = "error"
)

// StreamingChunk is one fragment of agent output.
type StreamingChunk struct {
	Kind    ChunkKind `json:"kind"`
	Payload string    `json:"payload"`
}

// TextChunk builds a plain text chunk.
func TextChunk(s string) StreamingChunk { return StreamingChunk{Kind: ChunkText, Payload: s} }

// ErrorChunk builds an error chunk.
func ErrorChunk(s string) StreamingChunk { return StreamingChunk{Kind: ChunkError, Payload: s} }

// StatusChunk builds a status chunk.
func StatusChunk(s string) StreamingChunk { return StreamingChunk{Kind: ChunkStatus, Payload: s} }
