package types

// ContentSource names the tier a cached video's text came from. Tiers are
// ordered: a rebuild replaces cached content only with an equal or higher tier.
type ContentSource string

const (
	SourceBasicInfo ContentSource = "basic_info"
	SourceAISummary ContentSource = "ai_summary"
	SourceSubtitle  ContentSource = "subtitle"
	SourceASR       ContentSource = "asr"
)

var sourcePriority = map[ContentSource]int{
	SourceBasicInfo: 1,
	SourceAISummary: 2,
	SourceSubtitle:  3,
	SourceASR:       4,
}

// SourcePriority returns the tier rank, 0 for unknown sources.
func SourcePriority(s ContentSource) int {
	return sourcePriority[s]
}

// MinUsefulContentLen is the threshold under which cached content is treated
// as too thin to reuse and gets refetched on the next build.
const MinUsefulContentLen = 50
