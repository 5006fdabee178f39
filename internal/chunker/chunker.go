// Package chunker splits long memory content into windows small enough for
// an embedding model. Windows follow paragraph and sentence boundaries where
// possible and fall back to whitespace, then raw rune cuts.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const DefaultMaxRunes = 1200

// Split returns the windows of text, each at most maxRunes runes. Text that
// already fits comes back as a single window; blank text yields nil.
func Split(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var pieces []string
	for _, para := range paragraphs(text) {
		if utf8.RuneCountInString(para) <= maxRunes {
			pieces = append(pieces, para)
			continue
		}
		for _, sent := range sentences(para) {
			if utf8.RuneCountInString(sent) <= maxRunes {
				pieces = append(pieces, sent)
				continue
			}
			pieces = append(pieces, hardSplit(sent, maxRunes)...)
		}
	}
	return pack(pieces, maxRunes)
}

// paragraphs splits on blank lines.
func paragraphs(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// sentences splits after ., ! or ? followed by whitespace.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// hardSplit cuts on the last whitespace before the limit, or exactly at the
// limit when a run has no whitespace.
func hardSplit(text string, maxRunes int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > maxRunes {
		cut := maxRunes
		for j := maxRunes; j > maxRunes/2; j-- {
			if unicode.IsSpace(runes[j]) {
				cut = j
				break
			}
		}
		if s := strings.TrimSpace(string(runes[:cut])); s != "" {
			out = append(out, s)
		}
		runes = runes[cut:]
	}
	if s := strings.TrimSpace(string(runes)); s != "" {
		out = append(out, s)
	}
	return out
}

// pack greedily joins consecutive pieces while they fit.
func pack(pieces []string, maxRunes int) []string {
	var out []string
	var cur string
	curLen := 0
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if cur != "" && curLen+1+n <= maxRunes {
			cur += " " + p
			curLen += 1 + n
			continue
		}
		if cur != "" {
			out = append(out, cur)
		}
		cur, curLen = p, n
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
