package processmodel

import (
	"errors"
	"regexp"
	"strings"

	"github.com/kalambet/promoai/internal/repair"
)

var (
	fenceRe  = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_-]*)[^\n]*\n(.*?)```")
	openerRe = regexp.MustCompile("```[ \t]*([A-Za-z0-9_-]*)[^\n]*\n")
)

// ErrNoCode is returned when a reply has no usable code block.
var ErrNoCode = errors.New("no ```yaml code block found in the response; answer with the complete model inside a single ```yaml block")

// ExtractCode pulls model code out of a reply. The last ```yaml (or ```yml)
// block wins. Tolerant mode also accepts a reply cut off inside its last
// block, the last unlabeled block and, when there are no fences at all, the
// whole reply.
func ExtractCode(response string, tolerant bool) (string, error) {
	locs := fenceRe.FindAllStringSubmatchIndex(response, -1)
	matches := make([][]string, len(locs))
	for i, loc := range locs {
		matches[i] = []string{response[loc[0]:loc[1]], response[loc[2]:loc[3]], response[loc[4]:loc[5]]}
	}
	for i := len(matches) - 1; i >= 0; i-- {
		switch strings.ToLower(matches[i][1]) {
		case "yaml", "yml":
			return strings.TrimSpace(matches[i][2]), nil
		}
	}
	if !tolerant {
		return "", ErrNoCode
	}
	tail := response
	if len(locs) > 0 {
		tail = response[locs[len(locs)-1][1]:]
	}
	if code, ok := unclosedBlock(tail); ok {
		if code == "" {
			return "", ErrNoCode
		}
		return code, nil
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if matches[i][1] == "" {
			return strings.TrimSpace(matches[i][2]), nil
		}
	}
	if !strings.Contains(response, "```") && strings.TrimSpace(response) != "" {
		return strings.TrimSpace(response), nil
	}
	return "", ErrNoCode
}

// unclosedBlock returns the content after the last yaml or unlabeled fence
// opener in s. s must not contain a closed fence.
func unclosedBlock(s string) (string, bool) {
	locs := openerRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return "", false
	}
	loc := locs[len(locs)-1]
	switch strings.ToLower(s[loc[2]:loc[3]]) {
	case "yaml", "yml", "":
	default:
		return "", false
	}
	return strings.TrimSpace(s[loc[1]:]), true
}

// Extract is the repair.ExtractFunc for process models. Every failure is
// retryable since the model can always be asked to rewrite its answer.
func Extract(response string, tolerant bool) repair.Result[*Model] {
	code, err := ExtractCode(response, tolerant)
	if err != nil {
		return repair.Retry[*Model](err.Error())
	}
	m, err := Parse(code)
	if err != nil {
		return repair.Retry[*Model](err.Error())
	}
	if err := m.Validate(tolerant); err != nil {
		return repair.Retry[*Model](err.Error())
	}
	return repair.Success(code, m)
}

// Load parses and strictly validates code supplied by a user rather than a
// model.
func Load(code string) (*Model, error) {
	m, err := Parse(code)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(false); err != nil {
		return nil, err
	}
	return m, nil
}
