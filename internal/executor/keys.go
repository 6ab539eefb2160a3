// internal/executor/keys.go
package executor

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/internal/browser/surface"
)

// keyAliases maps case-insensitive model-emitted key names onto canonical
// DOM key values.
var keyAliases = map[string]string{
	"enter":      "Enter",
	"return":     "Enter",
	"esc":        "Escape",
	"escape":     "Escape",
	"tab":        "Tab",
	"space":      " ",
	"spacebar":   " ",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"del":        "Delete",
	"up":         "ArrowUp",
	"arrowup":    "ArrowUp",
	"down":       "ArrowDown",
	"arrowdown":  "ArrowDown",
	"left":       "ArrowLeft",
	"arrowleft":  "ArrowLeft",
	"right":      "ArrowRight",
	"arrowright": "ArrowRight",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"f1":         "F1",
	"f2":         "F2",
	"f3":         "F3",
	"f4":         "F4",
	"f5":         "F5",
	"f6":         "F6",
	"f7":         "F7",
	"f8":         "F8",
	"f9":         "F9",
	"f10":        "F10",
	"f11":        "F11",
	"f12":        "F12",
}

// modifierAliases maps case-insensitive modifier names onto the surface
// modifier bitmask.
var modifierAliases = map[string]surface.Modifier{
	"ctrl":    surface.ModCtrl,
	"control": surface.ModCtrl,
	"alt":     surface.ModAlt,
	"option":  surface.ModAlt,
	"opt":     surface.ModAlt,
	"shift":   surface.ModShift,
	"meta":    surface.ModMeta,
	"cmd":     surface.ModMeta,
	"command": surface.ModMeta,
	"win":     surface.ModMeta,
	"super":   surface.ModMeta,
}

// parseKeyCombination splits a "+"-joined combination like "control+shift+t"
// into the canonical terminal key and its modifier set. The last non-modifier
// token is the key; a combination of only modifiers is rejected.
func parseKeyCombination(combo string) (string, surface.Modifier, error) {
	tokens := strings.Split(combo, "+")

	var mods surface.Modifier
	var key string

	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)

		if m, ok := modifierAliases[lower]; ok {
			mods |= m
			continue
		}
		if canonical, ok := keyAliases[lower]; ok {
			key = canonical
			continue
		}
		// Unknown tokens pass through unchanged; DOM-style names such as
		// "PrintScreen" arrive pre-capitalized.
		key = tok
	}

	if key == "" {
		return "", 0, fmt.Errorf("key combination %q has no terminal key", combo)
	}
	return key, mods, nil
}
