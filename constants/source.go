package constants

// Source identifies which extraction path produced a result.
type Source string

// Stable values (these exact strings appear in envelopes and the run store).
const (
	SourceOCR    Source = "ocr"
	SourceLLM    Source = "llm"
	SourceHybrid Source = "hybrid"
	SourceError  Source = "error"
)

// ParseState is the single-file pipeline state.
type ParseState string

const (
	StateValidating         ParseState = "VALIDATING"
	StateRasterizing        ParseState = "RASTERIZING" // PDF only
	StateNormalizing        ParseState = "NORMALIZING"
	StateExtractingOCR      ParseState = "EXTRACTING_OCR"
	StateScoring            ParseState = "SCORING_COMPLETENESS"
	StateExtractingFallback ParseState = "EXTRACTING_FALLBACK"
	StateMerging            ParseState = "MERGING_RESULTS"
	StateDone               ParseState = "DONE"
	StateFailed             ParseState = "FAILED"
)
