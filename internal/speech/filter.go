package speech

import (
	"regexp"
	"strings"
)

// Phrases speech models produce from silence or line noise.
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)thanks? (you )?for watching`),
	regexp.MustCompile(`(?i)please subscribe|like and subscribe`),
	regexp.MustCompile(`(?i)subtitles? by|transcri(bed|ption) by|amara\.org`),
	regexp.MustCompile(`(?i)^\W*[\[(](music|blank_audio|silence|inaudible|applause|noise)[\])]\W*$`),
	regexp.MustCompile(`(?i)^\W*(you|bye|thank you)\W*$`),
}

var fillers = map[string]bool{
	"um": true, "uh": true, "umm": true, "uhh": true, "hmm": true, "hm": true,
	"mm": true, "mhm": true, "ah": true, "er": true, "erm": true, "eh": true,
}

var wordRe = regexp.MustCompile(`[a-z0-9']+`)

type rejection uint

const (
	accepted rejection = iota
	rejectEmpty
	rejectTooLong
	rejectPattern
)

func screen(text string, maxChars int) rejection {
	text = strings.TrimSpace(text)
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return rejectEmpty
	}
	if maxChars > 0 && len(text) > maxChars {
		return rejectTooLong
	}
	for _, re := range hallucinationPatterns {
		if re.MatchString(text) {
			return rejectPattern
		}
	}

	onlyFiller := true
	for _, w := range words {
		if !fillers[w] {
			onlyFiller = false
			break
		}
	}
	if onlyFiller {
		return rejectPattern
	}

	// The same word over and over is a decoder loop, not speech.
	if len(words) >= 6 {
		counts := map[string]int{}
		for _, w := range words {
			counts[w]++
			if counts[w]*2 > len(words) && counts[w] >= 5 {
				return rejectPattern
			}
		}
	}
	return accepted
}
