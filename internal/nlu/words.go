package nlu

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	units = map[string]int{
		"zero": 0, "oh": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9,
	}
	teens = map[string]int{
		"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
		"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	}
	tens = map[string]int{
		"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	}
	ordinals = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
		"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11,
		"twelfth": 12, "thirteenth": 13, "fourteenth": 14, "fifteenth": 15,
		"sixteenth": 16, "seventeenth": 17, "eighteenth": 18, "nineteenth": 19,
		"twentieth": 20, "thirtieth": 30,
	}
)

var (
	meridiemGlued = regexp.MustCompile(`(\d)(am|pm)\b`)
	ordinalDigits = regexp.MustCompile(`^(\d{1,2})(st|nd|rd|th)?$`)
	nonWord       = regexp.MustCompile(`[^a-z0-9:/ ]+`)
)

// tokenize lowercases s, folds "a.m."/"p.m." and strips punctuation other
// than ':' and '/'.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "a.m", "am", "p.m", "pm", "'", "", "-", " ").Replace(s)
	s = meridiemGlued.ReplaceAllString(s, "$1 $2")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Fields(s)
}

// number reads a cardinal or ordinal number (0..59) starting at toks[i],
// in digits or words. It returns the value and how many tokens it used.
func number(toks []string, i int) (int, int, bool) {
	if i >= len(toks) {
		return 0, 0, false
	}
	t := toks[i]
	if m := ordinalDigits.FindStringSubmatch(t); m != nil {
		v, _ := strconv.Atoi(m[1])
		return v, 1, true
	}
	if v, ok := ordinals[t]; ok {
		return v, 1, true
	}
	if v, ok := teens[t]; ok {
		return v, 1, true
	}
	if v, ok := tens[t]; ok {
		if i+1 < len(toks) {
			next := toks[i+1]
			if u, ok := units[next]; ok && u > 0 && next != "oh" {
				return v + u, 2, true
			}
			if o, ok := ordinals[next]; ok && o < 10 {
				return v + o, 2, true
			}
		}
		return v, 1, true
	}
	if v, ok := units[t]; ok && t != "oh" {
		return v, 1, true
	}
	return 0, 0, false
}
