// internal/controller/prompt.go
package controller

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/learner"
)

const basePrompt = `You are a browser-operating agent. You see the page as a screenshot and act
through the provided tools. Coordinates are normalized to the screenshot you
were shown, either 0..1 or 0..1000; use the center of the element you target.

Work in small steps: one or a few actions, then observe the fresh screenshot
before deciding again. Prefer clicking visible elements over guessing URLs.
When a page is still loading or empty, wait instead of acting blindly.
When the task is complete, stop calling tools and state the result in plain
text. If the task cannot be completed, stop and explain why.`

// buildSystemPrompt assembles the per-step system instruction: base prompt,
// step budget, and the learned rules that apply to the current site.
func buildSystemPrompt(set schemas.InstructionSet, currentURL string, step, maxSteps int) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	fmt.Fprintf(&sb, "\n\nYou are on step %d of at most %d.", step, maxSteps)

	if len(set.General) > 0 {
		sb.WriteString("\n\nRules learned from previous runs:\n")
		for _, rule := range set.General {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteByte('\n')
		}
	}

	if site := learner.SiteKey(currentURL); site != "" {
		if rules := set.PerSite[site]; len(rules) > 0 {
			fmt.Fprintf(&sb, "\nRules for %s:\n", site)
			for _, rule := range rules {
				sb.WriteString("- ")
				sb.WriteString(rule)
				sb.WriteByte('\n')
			}
		}
	}

	return sb.String()
}
