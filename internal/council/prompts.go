package council

import (
	"fmt"
	"strings"

	"github.com/council-ai/orchestrator/internal/mcp"
)

// antiRefusalBanner is the system fragment attached whenever tool data is
// present, shared between the direct path and Stage 1 so the rules move in
// lockstep.
const antiRefusalBanner = `You have been given live tool output below. It was fetched moments ago and
IS current. Use it as the factual basis of your answer. Do NOT claim you
lack access to real-time data, do NOT mention a knowledge cutoff, and do
NOT second-guess the tool output's recency.`

// escalatedAntiRefusalBanner is used for refusal-retry attempts.
const escalatedAntiRefusalBanner = antiRefusalBanner + `

IMPORTANT: your previous answer incorrectly disclaimed access to live data.
The tool output below is real and current. Answer the question directly
from it.`

// toolFailureBanner instructs honesty when a tool failed: name the failure, do not fabricate.
const toolFailureBanner = `A tool was invoked to fetch live data for this question, but it FAILED.
Tell the user plainly that the lookup failed and suggest retrying later.
Do NOT fabricate data, dates, or events the tool did not return.`

// rankingFormatBlock is the required output format for Stage 2 rankers.
const rankingFormatBlock = `End your evaluation with a FINAL RANKING block in exactly this format, one
line per response, best first:

FINAL RANKING:
1. Response X (N/5) - one-sentence reason
2. Response Y (N/5) - one-sentence reason

where N is an integer quality rating from 1 (unusable) to 5 (excellent).`

// ToolResultBlock renders tool results as a prompt fragment. Failed results
// get the failure banner instead of their output.
func ToolResultBlock(results []mcp.ToolResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range results {
		if r.Failed() {
			b.WriteString(toolFailureBanner)
			b.WriteString("\n")
			fmt.Fprintf(&b, "FAILED TOOL: %s.%s: %s\n\n", r.Server, r.Tool, r.Error)
			continue
		}
		text, _ := r.InnerText()
		fmt.Fprintf(&b, "TOOL OUTPUT (%s.%s, took %.2fs):\n%s\n\n", r.Server, r.Tool, r.ExecutionTimeSeconds, text)
	}
	return b.String()
}

// stage1Prompt assembles one council model's Stage 1 message list.
func stage1Prompt(query string, toolResult *mcp.ToolResult, identityContext string) (system string, user string) {
	var sys strings.Builder
	if identityContext != "" {
		sys.WriteString(identityContext)
	}
	sys.WriteString("You are one voice on a council of AI models answering a user's question. Give your own best, complete answer.")
	if toolResult != nil {
		sys.WriteString("\n\n")
		if toolResult.Failed() {
			sys.WriteString(toolFailureBanner)
		} else {
			sys.WriteString(antiRefusalBanner)
		}
	}
	var usr strings.Builder
	if toolResult != nil {
		usr.WriteString(ToolResultBlock([]mcp.ToolResult{*toolResult}))
	}
	usr.WriteString(query)
	return sys.String(), usr.String()
}

// rankingPrompt asks one council model to rank the anonymized responses.
func rankingPrompt(query string, labels []string, responses map[string]string) string {
	var b strings.Builder
	b.WriteString("Several AI models answered the question below. Evaluate every response on accuracy, completeness, and clarity. The responses are anonymized; judge only the text.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", query)
	for _, label := range labels {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", label, responses[label])
	}
	b.WriteString(rankingFormatBlock)
	return b.String()
}

// refinementPrompt asks a model to improve its own low-rated answer using
// consolidated peer feedback.
func refinementPrompt(query, previous, feedback string) string {
	var b strings.Builder
	b.WriteString("Your answer to the question below was rated poorly by peer reviewers. Rewrite it, addressing their feedback. Return only the improved answer.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", query)
	fmt.Fprintf(&b, "YOUR PREVIOUS ANSWER:\n%s\n\n", previous)
	fmt.Fprintf(&b, "PEER FEEDBACK:\n%s\n", feedback)
	return b.String()
}

// synthesisPrompt builds the Stage 3 instruction: the original query, every
// stage-1 response labeled by model, and every ranking text. Rich markdown
// required, images forbidden.
func synthesisPrompt(query string, stage1 []Stage1Entry, stage2 []Stage2Entry, tools []mcp.ToolResult) string {
	var b strings.Builder
	b.WriteString("You are the chairman of an AI council. Synthesize the council's work into one final answer for the user.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", query)
	if block := ToolResultBlock(tools); block != "" {
		b.WriteString(block)
	}
	b.WriteString("COUNCIL RESPONSES:\n")
	for _, entry := range stage1 {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", entry.Model, entry.Response)
	}
	b.WriteString("PEER RANKINGS:\n")
	for _, entry := range stage2 {
		fmt.Fprintf(&b, "--- ranked by %s (round %d) ---\n%s\n\n", entry.Model, entry.Round, entry.RankingText)
	}
	b.WriteString(`Write the final answer with rich markdown formatting: use headers,
tables, lists, and code blocks where they help. Merge the strongest points
of the council's responses and correct their weaknesses. Do NOT include any
image references or markdown image syntax.`)
	return b.String()
}

// summarizeStage1 condenses stage-1 output for the mid-deliberation tool
// assessment prompt.
func summarizeStage1(entries []Stage1Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		text := entry.Response
		if len(text) > 400 {
			text = text[:400] + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", entry.Model, text)
	}
	return b.String()
}

func summarizeStage2(entries []Stage2Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		text := entry.RankingText
		if len(text) > 400 {
			text = text[:400] + "…"
		}
		fmt.Fprintf(&b, "%s (round %d): %s\n", entry.Model, entry.Round, text)
	}
	return b.String()
}
