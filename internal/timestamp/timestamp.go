// Package timestamp resolves the Last_Update values found in daily reports.
//
// The reports changed their date format several times over their history,
// so a value is tried against an ordered list of strategies and the first
// match wins. The ISO form is tried first and the two-digit-year form last,
// since it is the most ambiguous.
package timestamp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparseable is wrapped by every ParseError.
var ErrUnparseable = errors.New("unparseable timestamp")

// ParseError reports a value that matched none of the strategies.
type ParseError struct {
	Value      string
	Strategies []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q (tried %s)", ErrUnparseable, e.Value, strings.Join(e.Strategies, ", "))
}

func (e *ParseError) Unwrap() error {
	return ErrUnparseable
}

// Strategy is one named way of reading a timestamp.
type Strategy struct {
	Name    string
	Layouts []string
}

// Parse tries each layout of the strategy in order.
func (s Strategy) Parse(text string) (time.Time, bool) {
	for _, layout := range s.Layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// Strategy names, in priority order.
const (
	StrategyISO8601 = "iso8601"
	StrategyMDY4    = "mdy4"
	StrategyMDY2    = "mdy2"
)

// DefaultStrategies returns the daily-report formats in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: StrategyISO8601,
			Layouts: []string{
				time.RFC3339Nano,
				"2006-01-02T15:04:05",
				"2006-01-02 15:04:05",
			},
		},
		{Name: StrategyMDY4, Layouts: []string{"1/2/2006 15:04"}},
		{Name: StrategyMDY2, Layouts: []string{"1/2/06 15:04"}},
	}
}

// Resolver tries strategies in order.
type Resolver struct {
	strategies []Strategy
	names      []string
}

// NewResolver creates a Resolver over the given strategies.
// With no strategies it uses DefaultStrategies.
func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name)
	}

	return &Resolver{
		strategies: strategies,
		names:      names,
	}
}

// Resolve returns the instant for text.
func (r *Resolver) Resolve(text string) (time.Time, error) {
	t, _, err := r.ResolveStrategy(text)

	return t, err
}

// ResolveStrategy returns the instant for text and the name of the strategy
// that produced it.
func (r *Resolver) ResolveStrategy(text string) (time.Time, string, error) {
	trimmed := strings.TrimSpace(text)

	for _, s := range r.strategies {
		if t, ok := s.Parse(trimmed); ok {
			return t, s.Name, nil
		}
	}

	return time.Time{}, "", &ParseError{
		Value:      text,
		Strategies: r.names,
	}
}

// Canonical formats t the way Resolve reads back on its first strategy.
func Canonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
