package llm

import (
	"regexp"
	"strings"
)

const defaultAck = "我理解了，谢谢！"

var (
	thinkTagRe     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkBracketRe = regexp.MustCompile(`(?is)\[think\].*?\[/think\]`)
	thinkCommentRe = regexp.MustCompile(`(?is)<!--think-->.*?<!--/think-->`)

	thoughtRe   = regexp.MustCompile(`(?i)Thought:`)
	aiReplyRe   = regexp.MustCompile(`(?i)AI回复:`)
	thinkingRe  = regexp.MustCompile(`思考:`)
	replyMarkRe = regexp.MustCompile(`回复:`)

	sentenceSplitRe = regexp.MustCompile(`[。！!?]`)
)

// FilterThinking strips reasoning sections that some models emit before
// their answer.
func FilterThinking(response string) string {
	s := thinkTagRe.ReplaceAllString(response, "")
	s = thinkBracketRe.ReplaceAllString(s, "")
	s = thinkCommentRe.ReplaceAllString(s, "")
	s = cutSpans(s, thoughtRe, aiReplyRe)
	s = cutSpans(s, thinkingRe, replyMarkRe)

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if cleaned := strings.TrimSpace(strings.Join(lines, "\n")); cleaned != "" {
		return cleaned
	}

	fallback := thinkTagRe.ReplaceAllString(response, "")
	fallback = strings.TrimSpace(thinkBracketRe.ReplaceAllString(fallback, ""))
	if fallback == "" {
		return defaultAck
	}
	sentences := sentenceSplitRe.Split(fallback, -1)
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence != "" && !strings.HasPrefix(sentence, "<") && !strings.HasPrefix(sentence, "[") {
			return sentence + "。"
		}
	}
	// Nothing reads like prose; keep the first sentence rather than inventing one.
	return strings.TrimSpace(sentences[0]) + "。"
}

// cutSpans removes every section that starts at start and runs up to (not
// including) the next stop, or to the end of s.
func cutSpans(s string, start, stop *regexp.Regexp) string {
	var b strings.Builder
	for {
		loc := start.FindStringIndex(s)
		if loc == nil {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:loc[0]])
		rest := s[loc[1]:]
		end := stop.FindStringIndex(rest)
		if end == nil {
			return b.String()
		}
		s = rest[end[0]:]
	}
}
