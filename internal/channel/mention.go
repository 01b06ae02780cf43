package channel

import (
	"regexp"
	"sort"
	"strings"
)

// plainMentionPattern matches a plain @token mention. The token charset is
// shared across platforms; platform-specific syntax (e.g. Discord's <@id>)
// is matched through TextScanOptions.ExtraPatterns.
var plainMentionPattern = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)

// TextScanOptions configures textual mention scanning for one channel.
type TextScanOptions struct {
	// ExtraPatterns are platform token patterns whose first capture group is
	// the mentioned user id (e.g. Discord's <@!?id>). They are scanned before
	// the plain @token pass, and their spans shadow plain matches.
	ExtraPatterns []*regexp.Regexp
}

// ScanTextualMentions scans body for textual mentions. Offsets are byte
// offsets into body; each span covers the full token including its syntax.
// A plain @token whose @ is glued to a preceding token character (or to an
// opening angle bracket) is not a mention; this keeps e-mail addresses and
// platform tokens out of the plain pass.
func ScanTextualMentions(body string, opts TextScanOptions) []Mention {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	mentions := make([]Mention, 0, 4)
	covered := make([][2]int, 0, 4)
	for _, pattern := range opts.ExtraPatterns {
		if pattern == nil {
			continue
		}
		for _, match := range pattern.FindAllStringSubmatchIndex(body, -1) {
			start, end := match[0], match[1]
			userID := ""
			if len(match) >= 4 && match[2] >= 0 {
				userID = body[match[2]:match[3]]
			}
			if strings.TrimSpace(userID) == "" {
				continue
			}
			mentions = append(mentions, Mention{
				UserID: userID,
				Offset: start,
				Length: end - start,
			})
			covered = append(covered, [2]int{start, end})
		}
	}
	for _, match := range plainMentionPattern.FindAllStringSubmatchIndex(body, -1) {
		start, end := match[0], match[1]
		if insideSpan(covered, start) {
			continue
		}
		if start > 0 && isMentionBoundaryGlued(body[start-1]) {
			continue
		}
		token := body[match[2]:match[3]]
		mentions = append(mentions, Mention{
			UserID:   token,
			Username: token,
			Offset:   start,
			Length:   end - start,
		})
	}
	return mentions
}

// MergeMentions merges structured (platform-supplied) and textual candidates
// for one body. Structured mentions take precedence: a textual match that
// exactly overlaps a structured span is discarded. The result is deduplicated
// and ordered by ascending offset, structured before textual on ties. Spans
// that fall outside the body are discarded rather than reported as errors.
func MergeMentions(body string, structured, textual []Mention) []Mention {
	structured = validSpans(body, structured)
	textual = validSpans(body, textual)

	spanTaken := make(map[[2]int]bool, len(structured))
	for _, m := range structured {
		spanTaken[[2]int{m.Offset, m.Length}] = true
	}

	merged := make([]Mention, 0, len(structured)+len(textual))
	merged = append(merged, structured...)
	for _, m := range textual {
		if spanTaken[[2]int{m.Offset, m.Length}] {
			continue
		}
		merged = append(merged, m)
	}

	seen := make(map[Mention]bool, len(merged))
	unique := merged[:0]
	for _, m := range merged {
		key := Mention{UserID: m.UserID, Offset: m.Offset, Length: m.Length}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, m)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Offset < unique[j].Offset
	})
	return unique
}

// MentionsInclude reports whether the normalized bot identity appears as a
// mentioned user id.
func MentionsInclude(mentions []Mention, botID string) bool {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return false
	}
	for _, m := range mentions {
		if strings.TrimSpace(m.UserID) == botID {
			return true
		}
	}
	return false
}

// LocateToken finds token in body starting at or after from, returning the
// byte offset of the match.
func LocateToken(body, token string, from int) (int, bool) {
	if token == "" || from < 0 || from > len(body) {
		return 0, false
	}
	idx := strings.Index(body[from:], token)
	if idx < 0 {
		return 0, false
	}
	return from + idx, true
}

func validSpans(body string, mentions []Mention) []Mention {
	valid := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.Offset < 0 || m.Length <= 0 {
			continue
		}
		if m.Offset+m.Length > len(body) {
			continue
		}
		valid = append(valid, m)
	}
	return valid
}

func insideSpan(spans [][2]int, pos int) bool {
	for _, span := range spans {
		if pos >= span[0] && pos < span[1] {
			return true
		}
	}
	return false
}

func isMentionBoundaryGlued(b byte) bool {
	if b == '<' {
		return true
	}
	return b == '.' || b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
