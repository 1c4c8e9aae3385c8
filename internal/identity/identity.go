// Package identity derives stable identifiers from business keys, so repeated
// writes of the same derived record update one row instead of adding another.
package identity

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Namespace scopes every derived identifier of the application.
var Namespace = uuid.MustParse("6f1c2d0e-8a4b-5c3d-9e7f-1a2b3c4d5e6f")

var ErrNoParts = errors.New("identity: at least one part is required")

// Derive returns a name-based (SHA-1, version 5) UUID for the parts. Each
// part is length-prefixed, so no two part lists share a name.
func Derive(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", ErrNoParts
	}
	return uuid.NewSHA1(Namespace, []byte(encode(parts))).String(), nil
}

func encode(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// MustDerive is Derive for call sites that always pass parts.
func MustDerive(parts ...string) string {
	id, err := Derive(parts...)
	if err != nil {
		panic(err)
	}
	return id
}

// Score is the identifier of the score record of a posting.
func Score(postingID string) string {
	return MustDerive(postingID, "score")
}

// Step is the identifier of a step record of a posting.
func Step(postingID, stepID string) string {
	return MustDerive(postingID, stepID)
}
