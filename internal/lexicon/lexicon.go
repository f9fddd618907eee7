// Package lexicon rewrites assistant text into the form it should be spoken
// in before synthesis, e.g. expanding clinical abbreviations.
package lexicon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// DefaultEntries expand abbreviations that synthesizers read letter by letter.
var DefaultEntries = []string{
	`mg => milligrams`,
	`mcg => micrograms`,
	`ml => milliliters`,
	`bpm => beats per minute`,
	`BP => blood pressure`,
	`s/\bDr\.\s+/Doctor /g`,
	`s/\b(\d+)\s*yo\b/$1 year old/g`,
}

type rewrite interface {
	rewrite(text string) (string, bool)
}

// Lexicon is an ordered list of rewrites applied until the text stops changing.
type Lexicon struct {
	rewrites  []rewrite
	passLimit int
}

// Options controls how a lexicon is assembled.
type Options struct {
	Path      string
	Defaults  bool
	PassLimit int
}

// Load builds a lexicon from the built-in entries (when enabled) followed by
// the entries in Path. A missing file is not an error.
func Load(opts Options) (*Lexicon, error) {
	lex := &Lexicon{passLimit: opts.PassLimit}
	if lex.passLimit <= 0 {
		lex.passLimit = 8
	}

	if opts.Defaults {
		if err := lex.add(strings.NewReader(strings.Join(DefaultEntries, "\n"))); err != nil {
			return nil, fmt.Errorf("built-in lexicon: %w", err)
		}
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return lex, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lex, nil
		}
		return nil, fmt.Errorf("failed to open lexicon %q: %w", path, err)
	}
	defer file.Close()

	if err := lex.add(file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %q: %w", path, err)
	}
	return lex, nil
}

// Parse builds a lexicon from r alone.
func Parse(r io.Reader, passLimit int) (*Lexicon, error) {
	lex := &Lexicon{passLimit: passLimit}
	if lex.passLimit <= 0 {
		lex.passLimit = 8
	}
	if err := lex.add(r); err != nil {
		return nil, err
	}
	return lex, nil
}

// Len reports the number of entries.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rewrites)
}

// Apply returns the spoken form of text.
func (l *Lexicon) Apply(text string) (string, error) {
	if l == nil || len(l.rewrites) == 0 {
		return text, nil
	}

	spoken := text
	for pass := 0; pass < l.passLimit; pass++ {
		changed := false
		for _, rw := range l.rewrites {
			if next, ok := rw.rewrite(spoken); ok {
				spoken = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return spoken, nil
}

func (l *Lexicon) add(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rw  rewrite
			err error
		)
		switch {
		case isSubstitution(line):
			rw, err = parseSubstitution(line)
		case strings.Contains(line, "=>"):
			rw, err = parseTerm(line)
		default:
			err = errors.New("expected `term => spoken` or `s/pattern/replacement/flags`")
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		l.rewrites = append(l.rewrites, rw)
	}
	return scanner.Err()
}

// termRewrite replaces a whole word or phrase, case-insensitively.
type termRewrite struct {
	re     *regexp.Regexp
	spoken string
}

func parseTerm(line string) (rewrite, error) {
	term, spoken, _ := strings.Cut(line, "=>")
	term = strings.TrimSpace(term)
	spoken = strings.TrimSpace(spoken)
	if term == "" {
		return nil, errors.New("term cannot be empty")
	}

	pattern := regexp.QuoteMeta(term)
	if isWordByte(term[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(term[len(term)-1]) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid term %q: %w", term, err)
	}
	return termRewrite{re: re, spoken: spoken}, nil
}

func (t termRewrite) rewrite(text string) (string, bool) {
	out := t.re.ReplaceAllLiteralString(text, t.spoken)
	return out, out != text
}

// substitution is a sed-style s/pattern/replacement/flags entry. Without the
// g flag only the first match is replaced.
type substitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSubstitution(line string) (rewrite, error) {
	delim := line[1]
	pattern, rest, err := splitDelimited(line[2:], delim)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	replacement, rest, err := splitDelimited(rest, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	global := false
	inline := ""
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return substitution{re: re, replacement: replacement, global: global}, nil
}

func (s substitution) rewrite(text string) (string, bool) {
	if s.global {
		out := s.re.ReplaceAllString(text, s.replacement)
		return out, out != text
	}

	match := s.re.FindStringSubmatchIndex(text)
	if match == nil {
		return text, false
	}
	expanded := s.re.ExpandString(nil, s.replacement, text, match)
	out := text[:match[0]] + string(expanded) + text[match[1]:]
	return out, out != text
}

// splitDelimited reads up to the next unescaped delim. Escapes other than
// the delimiter itself are kept for the regexp engine.
func splitDelimited(s string, delim byte) (string, string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == delim {
				b.WriteByte(delim)
			} else {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		if c == delim {
			return b.String(), s[i+1:], nil
		}
		b.WriteByte(c)
	}
	return "", "", errors.New("unterminated expression")
}

func isSubstitution(line string) bool {
	return len(line) > 2 && line[0] == 's' && !isWordByte(line[1]) && line[1] != ' ' && line[1] != '\t'
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
