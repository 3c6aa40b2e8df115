package script

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/koji0701/peter-video-agent/internal/models"
)

// RawOutputSpeaker labels the synthetic line used when raw text contains no
// recognizable dialogue lines.
const RawOutputSpeaker = "Raw Output"

// ErrEmptyInput means the raw text was empty or whitespace-only. The
// upstream generation produced nothing, so callers treat this as a
// generation failure rather than a parse failure.
var ErrEmptyInput = errors.New("script text is empty")

// ParseError reports non-empty raw text that contained no recognizable
// dialogue lines. Non-fatal: callers fall back to RawOutputLine.
type ParseError struct {
	RawLength int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no dialogue lines found in %d bytes of script text", e.RawLength)
}

// Parser extracts "Speaker: utterance" lines for the two configured speaker labels.
type Parser struct {
	lineRe *regexp.Regexp
}

// NewParser compiles the line pattern for the given speaker labels. Matching
// is case-insensitive and tolerates a label suffix before the colon, so
// "Person A (excited): ..." parses with speaker "Person A (excited)".
func NewParser(speakerOne, speakerTwo string) *Parser {
	pattern := fmt.Sprintf(`(?i)^(%s[^:]*|%s[^:]*):\s*(.*)$`,
		regexp.QuoteMeta(speakerOne), regexp.QuoteMeta(speakerTwo))
	return &Parser{lineRe: regexp.MustCompile(pattern)}
}

// Parse splits raw text into ordered dialogue lines. Lines that do not match
// the pattern are dropped silently; utterances are trimmed. Zero matches on
// non-empty input is a *ParseError; zero matches on empty/whitespace-only
// input is ErrEmptyInput.
func (p *Parser) Parse(raw string) ([]models.ScriptLine, error) {
	var lines []models.ScriptLine
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := p.lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lines = append(lines, models.ScriptLine{
			Speaker: strings.TrimSpace(m[1]),
			Text:    strings.TrimSpace(m[2]),
		})
	}

	if len(lines) == 0 {
		if strings.TrimSpace(raw) == "" {
			return nil, ErrEmptyInput
		}
		return nil, &ParseError{RawLength: len(raw)}
	}
	return lines, nil
}

// RawOutputLine wraps unparseable raw text as a single synthetic line so the
// user still sees what the model returned.
func RawOutputLine(raw string) models.ScriptLine {
	return models.ScriptLine{Speaker: RawOutputSpeaker, Text: strings.TrimSpace(raw)}
}
