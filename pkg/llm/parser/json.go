package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNoJSON is returned when a response holds nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON value found in response")

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\n?(.*?)(?:```|$)")

// maxStarts bounds how many opening brackets in free text are tried.
const maxStarts = 3

// ExtractJSON finds and decodes the JSON value in a model response.
//
// It looks inside fenced code blocks first, then at the first opening
// brackets of the text. Each candidate is decoded as-is, then after repair:
// trailing commas, single or smart quotes, Python literals (True, False,
// None), raw newlines in strings and missing closers are fixed, and doubled
// template braces are collapsed as a last resort. Text after the value is
// ignored.
func ExtractJSON(raw string) (any, error) {
	text := strings.TrimSpace(StripThinking(raw))
	if text == "" {
		return nil, ErrNoJSON
	}

	var lastErr error
	for _, c := range candidates(text) {
		v, err := decodeLenient(c)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, ErrNoJSON
	}
	return nil, fmt.Errorf("failed to parse JSON from response: %w", lastErr)
}

func candidates(text string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if start := strings.IndexAny(body, "{["); start >= 0 {
			out = append(out, body[start:])
		}
	}

	offset := 0
	for n := 0; n < maxStarts; n++ {
		i := strings.IndexAny(text[offset:], "{[")
		if i < 0 {
			break
		}
		out = append(out, text[offset+i:])
		offset += i + 1
	}
	return out
}

func decodeLenient(s string) (any, error) {
	v, err := decodeFirst(s)
	if err == nil {
		return v, nil
	}
	if v, rerr := decodeFirst(Repair(s)); rerr == nil {
		return v, nil
	}
	if strings.Contains(s, "{{") {
		if v, cerr := decodeFirst(Repair(collapseBraces(s))); cerr == nil {
			return v, nil
		}
	}
	return nil, err
}

func decodeFirst(s string) (any, error) {
	var v any
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'",
)

var pythonLiterals = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "null",
}

// Repair rewrites almost-JSON into JSON. It does not validate the result.
func Repair(s string) string {
	s = smartQuotes.Replace(s)

	out := make([]byte, 0, len(s)+8)
	var stack []byte
	inString := false
	var quote rune
	escaped := false

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		if inString {
			switch {
			case escaped:
				escaped = false
				if quote == '\'' && r == '\'' {
					// \' is not a JSON escape; drop the backslash
					out = out[:len(out)-1]
				}
				out = utf8.AppendRune(out, r)
			case r == '\\':
				escaped = true
				out = append(out, '\\')
			case r == quote:
				inString = false
				out = append(out, '"')
			case r == '"':
				out = append(out, '\\', '"')
			case r == '\n':
				out = append(out, '\\', 'n')
			case r == '\r':
				out = append(out, '\\', 'r')
			case r == '\t':
				out = append(out, '\\', 't')
			default:
				out = utf8.AppendRune(out, r)
			}
			i += size
			continue
		}

		switch {
		case r == '"' || r == '\'':
			inString, quote = true, r
			out = append(out, '"')
		case r == '{' || r == '[':
			stack = append(stack, byte(r))
			out = append(out, byte(r))
		case r == '}' || r == ']':
			out = trimTrailingComma(out)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			out = append(out, byte(r))
		case unicode.IsLetter(r):
			j := i
			for j < len(s) {
				rr, sz := utf8.DecodeRuneInString(s[j:])
				if !unicode.IsLetter(rr) && !unicode.IsDigit(rr) && rr != '_' {
					break
				}
				j += sz
			}
			word := s[i:j]
			if lit, ok := pythonLiterals[word]; ok {
				word = lit
			}
			out = append(out, word...)
			i = j
			continue
		default:
			out = utf8.AppendRune(out, r)
		}
		i += size
	}

	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}
	out = trimTrailingComma(out)
	if trimmed := strings.TrimRightFunc(string(out), unicode.IsSpace); strings.HasSuffix(trimmed, ":") {
		out = append([]byte(trimmed), " null"...)
	}
	for k := len(stack) - 1; k >= 0; k-- {
		if stack[k] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return string(out)
}

func trimTrailingComma(out []byte) []byte {
	end := len(out)
	for end > 0 && (out[end-1] == ' ' || out[end-1] == '\n' || out[end-1] == '\t' || out[end-1] == '\r') {
		end--
	}
	if end > 0 && out[end-1] == ',' {
		return append(out[:end-1], out[end:]...)
	}
	return out
}

// collapseBraces turns template-escaped {{ }} into single braces outside
// strings.
func collapseBraces(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if (c == '{' || c == '}') && i+1 < len(s) && s[i+1] == c {
			i++
		}
		b.WriteByte(c)
	}
	return b.String()
}
