// Package identity derives stable upload keys from generated image
// filenames.
package identity

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"imgpipe/internal/domain"
)

// Extractor parses filename stems of the form
// <prefix>_<id>-<seed>_<sequence>_ into an identity. The structural
// pattern is supplied at construction; group 1 is the id and group 2 the
// generation seed.
type Extractor struct {
	re  *regexp.Regexp
	log *zap.Logger
}

func NewExtractor(pattern string, log *zap.Logger) (*Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid identity pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("identity pattern %q must capture an id and a seed group", pattern)
	}
	return &Extractor{re: re, log: log}, nil
}

// Extract resolves a filename stem to an identity. Non-conforming stems
// fall back to the full stem with no metadata; that is a degraded mode,
// not a failure, so every file always yields some identity. The result is
// deterministic for a given stem.
func (e *Extractor) Extract(stem string) domain.Identity {
	m := e.re.FindStringSubmatch(stem)
	if m == nil {
		e.log.Warn("filename does not match expected pattern, using full stem as id",
			zap.String("stem", stem))
		return domain.Identity{
			ID:       stem,
			Metadata: map[string]string{},
			Matched:  false,
		}
	}

	return domain.Identity{
		ID:       m[1],
		Metadata: map[string]string{"seed": m[2]},
		Matched:  true,
	}
}
