package media

import (
	"strings"

	"autoblog/internal/llm"
)

var (
	squareSizes = []llm.Size{{Width: 1024, Height: 1024}, {Width: 512, Height: 512}, {Width: 256, Height: 256}}

	landscapeSizes = []llm.Size{{Width: 1792, Height: 1024}, {Width: 1536, Height: 1024}, {Width: 1024, Height: 768}}
	portraitSizes  = []llm.Size{{Width: 1024, Height: 1792}, {Width: 1024, Height: 1536}, {Width: 768, Height: 1024}}

	primaryByRatio = map[string]llm.Size{
		"1:1":  squareSizes[0],
		"16:9": landscapeSizes[0],
		"3:2":  landscapeSizes[1],
		"4:3":  landscapeSizes[2],
		"9:16": portraitSizes[0],
		"2:3":  portraitSizes[1],
		"3:4":  portraitSizes[2],
	}
)

// ImageCandidates returns the ordered sizes to try for ratio: the primary
// size, the remaining sizes of the same orientation, then nil for a request
// without an explicit size. Unknown ratios are treated as square.
func ImageCandidates(ratio string) []*llm.Size {
	primary, ok := primaryByRatio[strings.TrimSpace(ratio)]
	if !ok {
		primary = squareSizes[0]
	}
	var family []llm.Size
	switch {
	case primary.Width > primary.Height:
		family = landscapeSizes
	case primary.Width < primary.Height:
		family = portraitSizes
	default:
		family = squareSizes
	}

	out := make([]*llm.Size, 0, len(family)+1)
	first := primary
	out = append(out, &first)
	for _, s := range family {
		if s == primary {
			continue
		}
		s := s
		out = append(out, &s)
	}
	return append(out, nil)
}
