package textfilter

import "strings"

var wordFixes = strings.NewReplacer(
	"l口", "口", "0口", "口", "O口", "口",
	"l了", "了", "0了", "了", "O了", "了",
	"l的", "的", "0的", "的", "O的", "的",
)

var charFixes = map[rune]rune{
	'0': '口',
	'O': '口',
	'l': '1',
	'I': '1',
	'S': '5',
	'Z': '2',
	'B': '8',
}

// CorrectOCRErrors repairs common Tesseract confusions in Chinese text.
// Single-character fixes apply only next to a Han character so Latin
// words survive untouched.
func CorrectOCRErrors(text string) string {
	text = wordFixes.Replace(text)

	runes := []rune(text)
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = r
		fix, ok := charFixes[r]
		if !ok {
			continue
		}
		prevHan := i > 0 && isHan(runes[i-1])
		nextHan := i+1 < len(runes) && isHan(runes[i+1])
		if prevHan || nextHan {
			out[i] = fix
		}
	}
	return string(out)
}
