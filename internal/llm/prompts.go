package llm

import (
	"fmt"
	"strings"
)

// DefaultPersona is used when an interview does not define its own.
const DefaultPersona = `You are a warm, curious interviewer collecting material for an article.
You listen closely and keep the conversation moving.`

// SpeechGuardrails apply to everything that will be spoken aloud.
const SpeechGuardrails = `IMPORTANT (always follow, even with a custom persona):
- Everything you write is read aloud by a speech synthesizer.
- No markdown, lists, emoji or stage directions.
- Match the language of the interviewee's last answer.`

const reactionInstructions = `Write a short reaction (1-2 sentences) to the interviewee's last answer.

RULES:
- Acknowledge what they said with a natural back-channel ("I see", "That makes sense").
- Reflect one concrete detail from the answer when there is one.
- Do NOT ask a question. The next question follows right after you.
- Do NOT summarize the whole answer.
- Output only the reaction text.`

const followUpInstructions = `Write ONE short follow-up question for the interviewee.

RULES:
- Ask about the angle below, in words that fit the conversation.
- Do not repeat a question that was already asked.
- Output only the question.`

const evaluationInstructions = `You evaluate an interview from the point of view of a writer who will turn it into an article.

Judge the WHOLE conversation so far, not only the last answer. A point that
was already covered earlier counts as covered.

Decide:
1. isSufficient: does the conversation now contain enough for the current question's objective?
2. score: 0-100, how well the objective is covered.
3. missingElements: the required elements still missing (empty when sufficient).
4. followUpQuestion: when insufficient, ONE short, spoken follow-up question that targets what is missing. Empty when sufficient.
5. userStopIntent: true only if the interviewee clearly asked to end or stop the interview.

Respond with ONLY valid JSON:
{
  "isSufficient": true,
  "score": 80,
  "reason": "short explanation",
  "missingElements": [],
  "followUpQuestion": "",
  "userStopIntent": false
}`

// ReactionSystemPrompt combines a persona with the speech guardrails.
func ReactionSystemPrompt(persona string) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return SpeechGuardrails + "\n\n" + persona
}

// ReactionUserPrompt renders the request for a single reaction.
func ReactionUserPrompt(history, lastAnswer string) string {
	var b strings.Builder
	b.WriteString(reactionInstructions)
	if history != "" {
		fmt.Fprintf(&b, "\n\nCONVERSATION SO FAR:\n%s", history)
	}
	fmt.Fprintf(&b, "\n\nLAST ANSWER:\n%s", lastAnswer)
	return b.String()
}

// EvaluationUserPrompt renders the sufficiency check for one question.
func EvaluationUserPrompt(question, answer, objective, history string, required []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT QUESTION:\n%s\n\nLATEST ANSWER:\n%s\n", question, answer)
	if objective != "" {
		fmt.Fprintf(&b, "\nINTERVIEW OBJECTIVE:\n%s\n", objective)
	}
	if len(required) > 0 {
		fmt.Fprintf(&b, "\nREQUIRED ELEMENTS:\n- %s\n", strings.Join(required, "\n- "))
	}
	if history != "" {
		fmt.Fprintf(&b, "\nCONVERSATION SO FAR:\n%s", history)
	}
	return b.String()
}

// FollowUpUserPrompt renders the request to phrase a follow-up from an angle.
func FollowUpUserPrompt(question, answer, angle, history string) string {
	var b strings.Builder
	b.WriteString(followUpInstructions)
	fmt.Fprintf(&b, "\n\nANGLE:\n%s\n\nCURRENT QUESTION:\n%s\n\nLATEST ANSWER:\n%s", angle, question, answer)
	if history != "" {
		fmt.Fprintf(&b, "\n\nCONVERSATION SO FAR:\n%s", history)
	}
	return b.String()
}
