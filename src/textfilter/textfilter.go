// Package textfilter scores OCR output and decides whether it looks like a
// chat message worth answering.
package textfilter

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

var (
	hanRe     = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]`)
	englishRe = regexp.MustCompile(`[a-zA-Z]{2,}`)
	numberRe  = regexp.MustCompile(`[0-9]{2,}`)
	punctRe   = regexp.MustCompile(`[，。！？；：、.,!?;:]`)
	spaceRe   = regexp.MustCompile(`\s+`)

	disallowedRe = regexp.MustCompile(`[^\x{4e00}-\x{9fa5}a-zA-Z0-9\s.,!?;:，。！？；：\-_@#&()]`)
	garbageRe    = regexp.MustCompile(`[^\x{4e00}-\x{9fa5}a-zA-Z0-9\s.,!?;:，。！？；：\-_@#&()\[\]{}]`)

	// RE2 has no backreferences.
	longRunRe   = regexp2.MustCompile(`(.)\1{4,}`, regexp2.None)
	wordRunRe   = regexp2.MustCompile(`(\w)\1{8,}`, regexp2.None)
	ocrNoiseRes = []*regexp.Regexp{
		regexp.MustCompile(`[A-Z]{3,}\s*[A-Z]{2,}`),
		regexp.MustCompile(`[A-Z]{2,}\s*[0-9]{2,}`),
		regexp.MustCompile(`[0-9]{2,}\s*[A-Z]{2,}`),
		regexp.MustCompile(`[A-Z]{1,2}\s*[A-Z]{1,2}`),
	}
)

var meaningfulWords = []string{
	"HELLO", "THANK", "PLEASE", "HELP", "YES", "NO", "OK", "GOOD", "BAD", "WELL", "TIME",
}

var interfaceElements = []string{
	"settings", "options", "menu", "file", "edit", "view", "help",
	"new", "open", "save", "exit", "cancel", "ok", "yes", "no",
	"apply", "close", "back", "next", "previous", "forward",
	"home", "search", "filter", "sort", "refresh", "update",
	"install", "uninstall", "download", "upload", "sync",
	"login", "logout", "register", "account", "profile",
	"message", "chat", "contact", "group", "room",
	"time", "date", "weather", "status", "info", "about",
}

var conversationIndicators = []string{"：", ":", "？", "?", "！", "!", "。", ".", "，", ","}

// Clean collapses whitespace, shortens long character runs and strips
// characters that never appear in chat text.
func Clean(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = spaceRe.ReplaceAllString(text, " ")
	if replaced, err := longRunRe.Replace(text, "$1$1", -1, -1); err == nil {
		text = replaced
	}
	text = disallowedRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Quality scores text; higher means more likely a real message.
func Quality(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	han := len(hanRe.FindAllString(text, -1))
	english := len(englishRe.FindAllString(text, -1))
	numbers := len(numberRe.FindAllString(text, -1))
	punct := len(punctRe.FindAllString(text, -1))

	noise := 0.0
	if hasOCRNoise(strings.ToUpper(text)) {
		noise = 10
	}

	return float64(han)*3 +
		float64(english)*2 +
		float64(numbers) +
		float64(punct) +
		clarity(text)*10 -
		repeatRatio(text)*20 -
		noise*5
}

// IsMeaningful reports whether text looks like conversational content
// rather than OCR garbage or interface chrome.
func IsMeaningful(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	if repeatRatio(text) > 0.8 {
		return false
	}

	if len(garbageRe.FindAllString(text, -1)) > 1 {
		return false
	}
	if countMatches(wordRunRe, text) > 1 {
		return false
	}

	if hasOCRNoise(strings.ToUpper(text)) {
		return false
	}

	lower := strings.ToLower(text)
	for _, element := range interfaceElements {
		if strings.Contains(lower, element) {
			return false
		}
	}

	if hanRe.MatchString(text) || englishRe.MatchString(text) {
		return true
	}
	for _, indicator := range conversationIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

// hasOCRNoise expects upper-cased text.
func hasOCRNoise(upper string) bool {
	for _, re := range ocrNoiseRes {
		if re.MatchString(upper) && !containsMeaningfulWord(upper) {
			return true
		}
	}
	return false
}

func containsMeaningfulWord(upper string) bool {
	for _, w := range meaningfulWords {
		if strings.Contains(upper, w) {
			return true
		}
	}
	return false
}

func repeatRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	unique := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		unique[r] = struct{}{}
	}
	return 1 - float64(len(unique))/float64(len(runes))
}

func clarity(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	score := 0.0
	for _, r := range runes {
		switch r {
		case 'O', 'l', 'I', 'S', 'Z', 'B':
			score += 0.5
		case '0', '1', '2', '5', '8':
			score += 0.3
		default:
			score++
		}
	}
	return score / float64(len(runes))
}

func countMatches(re *regexp2.Regexp, text string) int {
	n := 0
	m, err := re.FindStringMatch(text)
	for err == nil && m != nil {
		n++
		m, err = re.FindNextMatch(m)
	}
	return n
}

func isHan(r rune) bool { return r >= 0x4e00 && r <= 0x9fa5 }
