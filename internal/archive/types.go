package archive

import "time"

// Record is one conversation export handed to the archive.
type Record struct {
	ConversationID string
	ExportedAt     time.Time
	Status         string
	MessageCount   int
	// Body is the export document, already encoded as JSON.
	Body []byte
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ConversationID string `json:"conversation_id"`
	S3Key          string `json:"s3_key"`
	Status         string `json:"status"`
	MessageCount   int    `json:"message_count"`
	ExportedAt     string `json:"exported_at"`
}
