// Package pricing holds the static operation-kind cost table. Every credited
// operation in LaunchPilot maps to exactly one kind, and the table is total
// over the closed enumeration shipped here. Costs are deploy-time constants.
package pricing

import "fmt"

// Kind identifies a creditable operation.
type Kind string

const (
	KindTweet            Kind = "tweet"
	KindEmail            Kind = "email"
	KindTweetThread      Kind = "tweet-thread"
	KindBlogPost         Kind = "blog-post"
	KindOutreachCampaign Kind = "outreach-campaign"
	KindTwitterReport    Kind = "twitter-report"
)

// costs is immutable at runtime. Adding a kind means adding a row here,
// nothing registers dynamically.
var costs = map[Kind]int{
	KindTweet:            1,
	KindEmail:            2,
	KindTweetThread:      3,
	KindBlogPost:         5,
	KindOutreachCampaign: 10,
	KindTwitterReport:    20,
}

// ErrUnknownKind reports a kind with no cost entry. This is a programmer
// error (a call site passing a kind the table does not know), not a user
// condition to recover from.
type ErrUnknownKind struct {
	Kind Kind
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown operation kind %q", string(e.Kind))
}

// Cost returns the credit cost of performing count operations of the given
// kind. count values below 1 are treated as 1.
func Cost(kind Kind, count int) (int, error) {
	base, ok := costs[kind]
	if !ok {
		return 0, &ErrUnknownKind{Kind: kind}
	}
	if count < 1 {
		count = 1
	}
	return base * count, nil
}

// Known reports whether kind has a cost entry.
func Known(kind Kind) bool {
	_, ok := costs[kind]
	return ok
}

// Kinds returns every registered kind. Order is not stable.
func Kinds() []Kind {
	out := make([]Kind, 0, len(costs))
	for k := range costs {
		out = append(out, k)
	}
	return out
}

// Table returns a copy of the full kind -> cost mapping for display
// (e.g. the public pricing endpoint).
func Table() map[Kind]int {
	out := make(map[Kind]int, len(costs))
	for k, v := range costs {
		out[k] = v
	}
	return out
}
