package chunk

// Strategy selects how source text is split into chunks.
type Strategy string

const (
	// StrategyParagraph splits on blank lines before packing chunks.
	StrategyParagraph Strategy = "paragraph"
	// StrategyToken measures chunk size in model tokens.
	StrategyToken Strategy = "token"
	// StrategySentence splits on sentence boundaries before packing chunks.
	StrategySentence Strategy = "sentence"
	// StrategyFixed slices fixed-size character windows.
	StrategyFixed Strategy = "fixed"
)

const (
	// DefaultSize is the chunk size applied when none is configured.
	DefaultSize = 512
	// DefaultOverlap is the overlap applied when none is configured.
	DefaultOverlap = 50
)

// Settings configures chunking behavior.
type Settings struct {
	Strategy Strategy
	// Size is the maximum chunk length, in characters for character-based
	// strategies and in tokens for StrategyToken.
	Size int
	// Overlap is the amount of trailing content repeated at the start of
	// the next chunk. Must be smaller than Size.
	Overlap int
	// Encoding names the tiktoken encoding used by StrategyToken.
	Encoding string
}
