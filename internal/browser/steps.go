package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"pagewatch/internal/types"
)

// runStep executes a single attempt of one step. Retries live in the caller.
func (s *Session) runStep(ctx context.Context, step types.Step) (interface{}, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	page = page.Context(ctx).Timeout(s.cfg.DefaultTimeout())

	switch step.Type {
	case types.StepNavigate:
		if step.URL == "" {
			return nil, fmt.Errorf("navigate step %s has no url", step.ID)
		}
		if err := page.Navigate(step.URL); err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		if err := page.WaitLoad(); err != nil {
			return nil, fmt.Errorf("navigation timeout: %w", err)
		}
		return nil, nil

	case types.StepClick:
		el, err := page.Element(step.Selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
		}
		return nil, el.Click(proto.InputMouseButtonLeft, 1)

	case types.StepTypeText:
		el, err := page.Element(step.Selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
		}
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
		return nil, el.Input(step.Value)

	case types.StepSelect:
		el, err := page.Element(step.Selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
		}
		return nil, el.Select([]string{step.Value}, true, rod.SelectorTypeText)

	case types.StepHover:
		el, err := page.Element(step.Selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
		}
		return nil, el.Hover()

	case types.StepKeyPress:
		key, ok := namedKeys[step.Key]
		if !ok {
			if len(step.Key) == 1 {
				return nil, page.Keyboard.Type(input.Key(step.Key[0]))
			}
			return nil, fmt.Errorf("unknown key %q", step.Key)
		}
		return nil, page.Keyboard.Type(key)

	case types.StepScroll:
		return nil, s.scroll(page, step)

	case types.StepWait:
		wait := step.WaitTime
		if wait <= 0 {
			wait = 1000
		}
		select {
		case <-time.After(time.Duration(wait) * time.Millisecond):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case types.StepWaitForSelector:
		return nil, s.waitForSelector(page, step)

	case types.StepExtract:
		return s.extract(page, step)

	case types.StepEvaluate:
		res, err := page.Evaluate(&rod.EvalOptions{
			JS:      fmt.Sprintf("() => { return (%s); }", step.Script),
			ByValue: true,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate failed: %w", err)
		}
		var out interface{}
		if err := res.Value.Unmarshal(&out); err != nil {
			return res.Value.String(), nil
		}
		return out, nil

	case types.StepScreenshot:
		quality := screenshotQuality
		shot, err := page.Screenshot(step.FullPage, &proto.PageCaptureScreenshot{
			Format:  proto.PageCaptureScreenshotFormatJpeg,
			Quality: &quality,
		})
		if err != nil {
			return nil, fmt.Errorf("screenshot failed: %w", err)
		}
		return base64.StdEncoding.EncodeToString(shot), nil

	case types.StepReload:
		if err := page.Reload(); err != nil {
			return nil, fmt.Errorf("reload failed: %w", err)
		}
		return nil, page.WaitLoad()

	case types.StepGoBack:
		return nil, page.NavigateBack()

	case types.StepGoForward:
		return nil, page.NavigateForward()

	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Home":       input.Home,
	"End":        input.End,
}

func (s *Session) scroll(page *rod.Page, step types.Step) error {
	switch strings.ToLower(step.Direction) {
	case "down":
		return page.Mouse.Scroll(0, float64(s.viewport.Height), 1)
	case "up":
		return page.Mouse.Scroll(0, -float64(s.viewport.Height), 1)
	case "":
		x, y := 0, 0
		if step.ScrollX != nil {
			x = *step.ScrollX
		}
		if step.ScrollY != nil {
			y = *step.ScrollY
		}
		_, err := page.Evaluate(&rod.EvalOptions{
			JS:      `(x, y) => window.scrollTo(x, y)`,
			JSArgs:  []interface{}{x, y},
			ByValue: true,
		})
		return err
	default:
		return fmt.Errorf("unknown scroll direction %q", step.Direction)
	}
}

// waitForSelector waits up to step.WaitTime (default 10s) for a selector.
// Title selectors only need the attached state; document.title is readable
// long before the element would count as visible.
func (s *Session) waitForSelector(page *rod.Page, step types.Step) error {
	wait := step.WaitTime
	if wait <= 0 {
		wait = 10000
	}
	page = page.Timeout(time.Duration(wait) * time.Millisecond)

	el, err := page.Element(step.Selector)
	if err != nil {
		return fmt.Errorf("waitForSelector %s: %w", step.Selector, err)
	}

	state := step.State
	if state == "" {
		state = types.WaitAttached
	}
	if isTitleSelector(step.Selector) {
		state = types.WaitAttached
	}
	if state == types.WaitVisible {
		if err := el.WaitVisible(); err != nil {
			return fmt.Errorf("waitForSelector %s not visible: %w", step.Selector, err)
		}
	}
	return nil
}

// extract reads text, html, an input value or an attribute from the matched
// element(s). Selectors containing "title" read document.title instead of
// textContent.
func (s *Session) extract(page *rod.Page, step types.Step) (interface{}, error) {
	if isTitleSelector(step.Selector) {
		info, err := page.Info()
		if err != nil {
			return nil, fmt.Errorf("read title: %w", err)
		}
		return info.Title, nil
	}

	if step.Multiple {
		els, err := page.Elements(step.Selector)
		if err != nil {
			return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
		}
		out := make([]interface{}, 0, len(els))
		for _, el := range els {
			v, err := extractOne(el, step)
			if err != nil {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	}

	el, err := page.Element(step.Selector)
	if err != nil {
		return nil, fmt.Errorf("element not found: %s: %w", step.Selector, err)
	}
	return extractOne(el, step)
}

func extractOne(el *rod.Element, step types.Step) (interface{}, error) {
	kind := step.Kind
	if kind == "" {
		if step.Attribute != "" {
			kind = types.ExtractAttribute
		} else {
			kind = types.ExtractText
		}
	}
	switch kind {
	case types.ExtractText:
		return el.Text()
	case types.ExtractHTML:
		return el.HTML()
	case types.ExtractValue:
		v, err := el.Property("value")
		if err != nil {
			return nil, err
		}
		return v.String(), nil
	case types.ExtractAttribute:
		attr, err := el.Attribute(step.Attribute)
		if err != nil {
			return nil, err
		}
		if attr == nil {
			return "", nil
		}
		return *attr, nil
	default:
		return nil, fmt.Errorf("unknown extract kind %q", kind)
	}
}

func isTitleSelector(selector string) bool {
	return strings.Contains(strings.ToLower(selector), "title")
}
