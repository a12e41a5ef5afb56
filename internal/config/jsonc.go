package config

import (
	"errors"
)

// StripComments blanks out // line comments and /* */ block comments that
// appear outside JSON strings. Comment bytes become spaces (newlines are
// kept) so decoder offsets still point at the original text.
func StripComments(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)

	const (
		stateCode = iota
		stateString
		stateLine
		stateBlock
	)
	state := stateCode
	escaped := false

	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case stateCode:
			switch {
			case c == '"':
				state = stateString
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				out[i], out[i+1] = ' ', ' '
				i++
				state = stateLine
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i], out[i+1] = ' ', ' '
				i++
				state = stateBlock
			}
		case stateString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				state = stateCode
			}
		case stateLine:
			if c == '\n' {
				state = stateCode
			} else {
				out[i] = ' '
			}
		case stateBlock:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				state = stateCode
			} else if c != '\n' {
				out[i] = ' '
			}
		}
	}

	if state == stateBlock {
		return nil, errors.New("unterminated block comment")
	}
	return out, nil
}
