// Package scenario holds the interactions that can be run in a session.
package scenario

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/fixture"
)

// Search page selectors.
const (
	SearchURL          = "https://www.google.com/"
	ConsentButtonText  = "Accept all"
	SearchBoxSelector  = "[name='q']"
	SubmitSelector     = "input[value='Google Search']"
	ResultsSelector    = "#rcnt"
	DefaultSearchTerm  = "playwright"
	consentSettleDelay = time.Second
)

// Search looks term up on the search page and waits for the results.
func Search(term string) fixture.Action {
	return searchWithDelay(term, consentSettleDelay)
}

func searchWithDelay(term string, settle time.Duration) fixture.Action {
	return func(ctx context.Context, page browser.Page) error {
		if err := page.Goto(ctx, SearchURL); err != nil {
			return err
		}
		if err := page.WaitForLoad(ctx); err != nil {
			return err
		}

		clicked, err := page.ClickIfPresent(ctx, ConsentButtonText)
		if err != nil {
			return fmt.Errorf("failed to dismiss consent dialog: %w", err)
		}
		if clicked {
			if err := wait(ctx, settle); err != nil {
				return err
			}
		}

		if err := page.Fill(ctx, SearchBoxSelector, term); err != nil {
			return err
		}
		if err := page.Click(ctx, SubmitSelector); err != nil {
			return err
		}
		return page.WaitVisible(ctx, ResultsSelector)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Builder creates an action from a free-form input such as a search term.
type Builder func(input string) fixture.Action

// Registry maps scenario names to builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a registry with the built-in scenarios.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register("search", func(input string) fixture.Action {
		if input == "" {
			input = DefaultSearchTerm
		}
		return Search(input)
	})
	return r
}

// Register adds or replaces a scenario.
func (r *Registry) Register(name string, b Builder) {
	r.builders[name] = b
}

// Build returns the named scenario's action.
func (r *Registry) Build(name, input string) (fixture.Action, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %q", name)
	}
	return b(input), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.builders[name]
	return ok
}

// Names returns the registered scenario names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
