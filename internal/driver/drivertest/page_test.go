package drivertest

import (
	"context"
	"testing"

	"github.com/roach88/dropcart/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage_LocateScopedAndUnscoped(t *testing.T) {
	ctx := context.Background()
	p := New().Route("https://shop.test/p", NewNode("").
		With("#offer",
			NewNode("").With(".price", NewNode("$10.00")),
			NewNode("").With(".price", NewNode("$12.00")),
		))
	require.NoError(t, p.Navigate(ctx, "https://shop.test/p"))

	offers, err := p.Locate(ctx, "#offer", nil)
	require.NoError(t, err)
	require.Len(t, offers, 2)

	all, err := p.Locate(ctx, ".price", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := p.Locate(ctx, ".price", offers[1])
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	text, err := p.ReadText(ctx, scoped[0])
	require.NoError(t, err)
	assert.Equal(t, "$12.00", text)
}

func TestPage_GroupSelectorMatchesAlternatives(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Mount("#b", NewNode("b"))

	els, err := p.Locate(ctx, "#a, #b", nil)
	require.NoError(t, err)
	assert.Len(t, els, 1)
	assert.NoError(t, p.WaitVisible(ctx, "#a, #b", 0))
}

func TestPage_ClickMutatesPage(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Mount("#add", NewNode("Add").Clicked(func(p *Page) error {
		p.Mount("#panel", NewNode("Added to cart"))
		return nil
	}))

	assert.ErrorIs(t, p.WaitVisible(ctx, "#panel", 0), driver.ErrTimeout)

	els, err := p.Locate(ctx, "#add", nil)
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, els[0]))

	assert.NoError(t, p.WaitVisible(ctx, "#panel", 0))
	assert.Equal(t, 1, p.Count(OpClick, "#add"))
}

func TestPage_HiddenNodes(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Mount("#dialog", NewNode("").Hide())

	assert.ErrorIs(t, p.WaitVisible(ctx, "#dialog", 0), driver.ErrTimeout)
	assert.NoError(t, p.WaitHidden(ctx, "#dialog", 0))

	p.Show("#dialog")
	assert.NoError(t, p.WaitVisible(ctx, "#dialog", 0))
	assert.ErrorIs(t, p.WaitHidden(ctx, "#dialog", 0), driver.ErrTimeout)
}

func TestPage_StaleAfterNavigate(t *testing.T) {
	ctx := context.Background()
	p := New().Route("https://shop.test/a", NewNode("").With("#x", NewNode("x")))
	require.NoError(t, p.Navigate(ctx, "https://shop.test/a"))

	els, err := p.Locate(ctx, "#x", nil)
	require.NoError(t, err)
	require.NoError(t, p.Navigate(ctx, "https://shop.test/a"))

	_, err = p.ReadText(ctx, els[0])
	assert.ErrorIs(t, err, driver.ErrStale)
}

func TestPage_QueuedFailures(t *testing.T) {
	ctx := context.Background()
	p := New().Fail(OpNavigate, "https://shop.test/a", driver.ErrTimeout, driver.ErrTimeout)

	assert.ErrorIs(t, p.Navigate(ctx, "https://shop.test/a"), driver.ErrTimeout)
	assert.ErrorIs(t, p.Navigate(ctx, "https://shop.test/a"), driver.ErrTimeout)
	assert.NoError(t, p.Navigate(ctx, "https://shop.test/a"))
	assert.Equal(t, 3, p.Count(OpNavigate, "https://shop.test/a"))

	p.CloseSession()
	assert.ErrorIs(t, p.Navigate(ctx, "https://shop.test/a"), driver.ErrSessionClosed)
}
