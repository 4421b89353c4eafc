package ir

// Version constants for on-disk formats and the engine.
const (
	// FormatVersion is the envelope and journal entry format version.
	FormatVersion = "1"

	// EngineVersion is the layercache engine version.
	EngineVersion = "0.1.0"
)
