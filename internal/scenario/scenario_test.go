package scenario

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/sessionfixture/internal/browser"
)

// scriptedPage records calls and fails the first call matching failOn.
type scriptedPage struct {
	browser.Page

	calls   []string
	consent bool
	failOn  string
}

func (p *scriptedPage) record(call string) error {
	p.calls = append(p.calls, call)
	if call == p.failOn {
		return errors.New(call + " failed")
	}
	return nil
}

func (p *scriptedPage) Goto(_ context.Context, url string) error {
	return p.record("goto " + url)
}

func (p *scriptedPage) WaitForLoad(context.Context) error {
	return p.record("load")
}

func (p *scriptedPage) ClickIfPresent(_ context.Context, text string) (bool, error) {
	return p.consent, p.record("consent " + text)
}

func (p *scriptedPage) Fill(_ context.Context, selector, value string) error {
	return p.record(fmt.Sprintf("fill %s=%s", selector, value))
}

func (p *scriptedPage) Click(_ context.Context, selector string) error {
	return p.record("click " + selector)
}

func (p *scriptedPage) WaitVisible(_ context.Context, selector string) error {
	return p.record("visible " + selector)
}

func TestSearchSteps(t *testing.T) {
	page := &scriptedPage{consent: true}

	err := searchWithDelay("golang", time.Millisecond)(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"goto https://www.google.com/",
		"load",
		"consent Accept all",
		"fill [name='q']=golang",
		"click input[value='Google Search']",
		"visible #rcnt",
	}, page.calls)
}

func TestSearchStopsAtFirstError(t *testing.T) {
	page := &scriptedPage{failOn: "click input[value='Google Search']"}

	err := Search("golang")(context.Background(), page)
	assert.EqualError(t, err, "click input[value='Google Search'] failed")
	assert.NotContains(t, page.calls, "visible #rcnt")
}

func TestSearchSettleDelayHonoursCancel(t *testing.T) {
	page := &scriptedPage{consent: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := searchWithDelay("golang", time.Hour)(ctx, page)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, page.calls, "fill [name='q']=golang")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Has("search"))
	assert.Equal(t, []string{"search"}, r.Names())

	action, err := r.Build("search", "")
	require.NoError(t, err)
	page := &scriptedPage{}
	require.NoError(t, action(context.Background(), page))
	assert.Contains(t, page.calls, "fill [name='q']=playwright")

	_, err = r.Build("checkout", "")
	assert.Error(t, err)
}
