package browser

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTypeDelay is the per-character typing delay.
const DefaultTypeDelay = 25 * time.Millisecond

var errNoLocator = errors.New("element has no locator")

// eachLocator runs fn against selectors in order and stops at the first
// success. A closed target ends the walk at once.
func eachLocator(selectors []string, fn func(selector string) error) error {
	if len(selectors) == 0 {
		return errNoLocator
	}
	var lastErr error
	for _, sel := range selectors {
		err := fn(sel)
		if err == nil {
			return nil
		}
		if isTargetClosed(err) {
			return err
		}
		browserLog.Debugf("locator %s failed: %v", sel, err)
		lastErr = err
	}
	return lastErr
}

// clickElement tries each locator with progressively more forceful clicks.
func clickElement(page Page, selectors []string) error {
	return eachLocator(selectors, func(sel string) error {
		return clickSelector(page, sel)
	})
}

func clickSelector(page Page, selector string) error {
	attempts := []struct {
		name string
		fn   func() error
	}{
		{"click", func() error { return page.Click(selector, ClickOptions{}) }},
		{"force click", func() error { return page.Click(selector, ClickOptions{Force: true}) }},
		{"dispatch click", func() error { return page.DispatchClick(selector) }},
		{"mouse click", func() error {
			box, err := page.BoundingBox(selector)
			if err != nil {
				return err
			}
			if box == nil {
				return fmt.Errorf("element has no bounding box")
			}
			x, y := box.Center()
			return page.MouseClick(x, y)
		}},
	}

	var lastErr error
	for _, a := range attempts {
		err := a.fn()
		if err == nil {
			return nil
		}
		if isTargetClosed(err) {
			return err
		}
		browserLog.Debugf("%s on %s failed: %v", a.name, selector, err)
		lastErr = err
	}
	return fmt.Errorf("all click strategies failed for %s: %w", selector, lastErr)
}

// typeText clears the field, ignoring failures, then types text with a
// per-character delay. Each locator is tried until one accepts the text.
func typeText(page Page, selectors []string, text string, delay time.Duration) error {
	return eachLocator(selectors, func(sel string) error {
		if err := page.Clear(sel); err != nil {
			if isTargetClosed(err) {
				return err
			}
			browserLog.Debugf("clear on %s failed, typing anyway: %v", sel, err)
		}
		if err := page.Type(sel, text, delay); err != nil {
			return fmt.Errorf("failed to type into %s: %w", sel, err)
		}
		return nil
	})
}

func selectOption(page Page, selectors []string, label string) error {
	return eachLocator(selectors, func(sel string) error {
		if err := page.SelectOption(sel, []string{label}); err != nil {
			return fmt.Errorf("failed to select %q in %s: %w", label, sel, err)
		}
		return nil
	})
}

func hoverElement(page Page, selectors []string) error {
	return eachLocator(selectors, func(sel string) error {
		if err := page.Hover(sel); err != nil {
			return fmt.Errorf("failed to hover %s: %w", sel, err)
		}
		return nil
	})
}
