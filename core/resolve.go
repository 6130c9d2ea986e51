package core

import (
	"errors"

	"github.com/ericselin/tableserve/pkg/negotiate"
)

// ErrNoCandidate means not even the sentinel matched; the table is broken.
var ErrNoCandidate = errors.New("no routing candidate, sentinel missing")

// Rank orders candidate paths; lower ranks win.
type Rank int

const (
	// RankRequested is the path the client asked for.
	RankRequested Rank = iota
	// RankFallback is the sentinel not-found path.
	RankFallback
)

// Resolution is the single outcome of resolving a request against the table.
type Resolution struct {
	// Requested is the path the client asked for.
	Requested string
	Entry     Entry
	Rank      Rank
	// Variant is the chosen representation; nil when the entry has none.
	Variant *Variant
	// NotModified is set when the client already holds the chosen variant.
	NotModified bool
}

// Resolve picks the best candidate among entries for the request.
//
// Only the requested path and the sentinel take part. Variants whose encoding the
// client does not accept are dropped, entries without variants always take part.
// The requested path beats the sentinel, then the smallest representation wins,
// then identity and lexical encoding order break ties.
func Resolve(entries []Entry, in negotiate.Inputs, sentinel string) (Resolution, error) {
	var (
		best  Resolution
		found bool
	)
	consider := func(c Resolution) {
		if !found || less(c, best) {
			best, found = c, true
		}
	}
	for _, e := range entries {
		var rank Rank
		switch e.Path {
		case sentinel:
			rank = RankFallback
		case in.Path:
			rank = RankRequested
		default:
			continue
		}
		serve, ok := e.Disposition.(Serve)
		if !ok || len(serve.Variants) == 0 {
			consider(Resolution{Requested: in.Path, Entry: e, Rank: rank})
			continue
		}
		for i := range serve.Variants {
			v := &serve.Variants[i]
			if in.Accepts(v.Encoding) {
				consider(Resolution{Requested: in.Path, Entry: e, Rank: rank, Variant: v})
			}
		}
	}
	if !found {
		return best, ErrNoCandidate
	}
	best.NotModified = in.Validator != "" &&
		best.Rank == RankRequested &&
		best.Variant != nil &&
		best.Variant.Validator == in.Validator
	return best, nil
}

func less(a, b Resolution) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	la, lb := a.length(), b.length()
	if la != lb {
		return la < lb
	}
	return a.encoding() < b.encoding()
}

func (r Resolution) length() int64 {
	if r.Variant == nil {
		return 0
	}
	return r.Variant.Length
}

func (r Resolution) encoding() string {
	if r.Variant == nil {
		return ""
	}
	return r.Variant.Encoding
}
