package anthropic

// CachedSystemPrompt builds the system blocks for a run of related requests:
// an uncached instruction block followed by a reference block carrying a
// cache breakpoint, so repeated calls within ttl reuse the reference prefix.
func CachedSystemPrompt(instruction, reference, ttl string) []SystemBlock {
	blocks := []SystemBlock{{Text: instruction}}
	if reference == "" {
		return blocks
	}
	return append(blocks, SystemBlock{
		Text:         reference,
		CacheControl: &CacheControl{TTL: ttl},
	})
}
