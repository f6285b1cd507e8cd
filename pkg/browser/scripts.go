package browser

import (
	"encoding/json"
	"fmt"
)

// SettledScript evaluates to true once the document is complete and every
// finite animation has stopped. Infinite animations (spinners, cursors,
// particle loops) never finish and are ignored.
const SettledScript = `(() => {
	if (document.readyState !== "complete") return false;
	if (typeof document.getAnimations !== "function") return true;
	return document.getAnimations().every(a => {
		if (a.playState !== "running") return true;
		const t = a.effect && a.effect.getComputedTiming ? a.effect.getComputedTiming() : null;
		return t !== null && t.iterations === Infinity;
	});
})()`

// VisibleFunction reports whether an element is rendered: it has a
// non-empty bounding box and is not hidden by display or visibility.
const VisibleFunction = `function(el) {
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === "none" || style.visibility === "hidden") return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

// VisibleScript returns an expression that applies VisibleFunction to the
// first match of selector.
func VisibleScript(selector string) string {
	return fmt.Sprintf(`(%s)(document.querySelector(%s))`, VisibleFunction, jsString(selector))
}

// StyleResult is what StyleScript evaluates to.
type StyleResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

// StyleScript returns an expression evaluating to a StyleResult for the
// computed value of property on the first match of selector.
func StyleScript(selector, property string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return {found: false, value: ""};
	return {found: true, value: window.getComputedStyle(el).getPropertyValue(%s)};
})()`, jsString(selector), jsString(property))
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
