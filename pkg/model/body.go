package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var ErrEmptyBody = errors.New("job body is empty")

// Body is the data a job carries to its worker: a capability kind plus
// string arguments, encoded as "kind?arg=value&arg2=value". It is never
// evaluated as source; workers dispatch on Kind.
type Body struct {
	Kind string
	Args url.Values
}

func ParseBody(s string) (Body, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Body{}, ErrEmptyBody
	}
	kind, query, _ := strings.Cut(s, "?")
	if !kindPattern.MatchString(kind) {
		return Body{}, fmt.Errorf("invalid job kind %q", kind)
	}
	args, err := url.ParseQuery(query)
	if err != nil {
		return Body{}, fmt.Errorf("parse arguments of %q: %w", kind, err)
	}
	return Body{Kind: kind, Args: args}, nil
}

// String encodes b; arguments are sorted by key.
func (b Body) String() string {
	if len(b.Args) == 0 {
		return b.Kind
	}
	return b.Kind + "?" + b.Args.Encode()
}
