package decision

import "strings"

// NormalizeAction maps source action aliases onto the canonical set.
func NormalizeAction(raw string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "enter_long", "open_long", "buy", "long":
		return ActionEnterLong, true
	case "enter_short", "open_short", "sell", "short":
		return ActionEnterShort, true
	case "exit", "close", "close_long", "close_short":
		return ActionExit, true
	case "hold", "wait", "none":
		return ActionHold, true
	}
	return "", false
}

// Normalize clamps numeric fields into their documented ranges.
func Normalize(d *Decision) {
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if d.SizeFraction < 0 {
		d.SizeFraction = 0
	}
	if d.SizeFraction > 1 {
		d.SizeFraction = 1
	}
	if d.Leverage < 0 {
		d.Leverage = 0
	}
}
