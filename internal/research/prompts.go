package research

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// PROMPTS
// ============================================================================

const queryWriterInstructions = `Your goal is to generate a targeted web search query.

<CONTEXT>
Current date: %s
Ensure the query accounts for the current date when the topic is time-sensitive.
</CONTEXT>

<TOPIC>
%s
</TOPIC>

<FORMAT>
Format your response as a JSON object with exactly these two keys:
- "query": the actual search query string
- "rationale": brief explanation of why this query is relevant
</FORMAT>

Provide your response in JSON format:`

const summarizerInstructions = `<GOAL>
Generate a high-quality summary of the provided context.
</GOAL>

<REQUIREMENTS>
When creating a NEW summary:
1. Highlight the most relevant information related to the user topic from the search results
2. Ensure a coherent flow of information

When EXTENDING an existing summary:
1. Read the existing summary and new search results carefully
2. Compare the new information with the existing summary
3. For each piece of new information:
    a. If it's related to existing points, integrate it into the relevant paragraph
    b. If it's entirely new but relevant, add a new paragraph with a smooth transition
    c. If it's not relevant to the user topic, skip it
4. Ensure all additions are relevant to the user's topic
5. Verify your final output differs from the input summary
</REQUIREMENTS>

<FORMATTING>
Start directly with the updated summary, without preamble or titles. Do not use XML tags in the output.
</FORMATTING>

<Task>
Think carefully about the provided context first, then produce the summary.
</Task>`

const reflectionInstructions = `You are an expert research assistant analyzing a summary about %s.

<GOAL>
1. Identify knowledge gaps or areas that need deeper exploration
2. Generate a follow-up question that would help expand understanding
3. Focus on technical details, implementation specifics, or emerging trends that were not fully covered
</GOAL>

<REQUIREMENTS>
Ensure the follow-up question is self-contained and includes necessary context for a web search.
</REQUIREMENTS>

<FORMAT>
Format your response as a JSON object with exactly these keys:
- "is_sufficient": true or false
- "knowledge_gap": describe what information is missing or needs clarification (empty string if sufficient)
- "follow_up_query": a specific question to address the gap (empty string if sufficient)
</FORMAT>

Provide your analysis in JSON format:`

const reflectionRepairInstructions = `Your previous response was not valid JSON. Respond again with ONLY a JSON object containing the keys "is_sufficient" (boolean), "knowledge_gap" (string), and "follow_up_query" (string). No other text.`

func queryWriterPrompt(topic string) string {
	return fmt.Sprintf(queryWriterInstructions, time.Now().Format("January 2, 2006"), topic)
}

func reflectionPrompt(topic string) string {
	return fmt.Sprintf(reflectionInstructions, topic)
}

// summarizerHumanMessage builds the user-role message for the summarize
// step. An existing summary is extended; otherwise a fresh one is created.
func summarizerHumanMessage(topic, existingSummary string, sources []Source) string {
	var b strings.Builder
	if existingSummary != "" {
		b.WriteString("<Existing Summary>\n")
		b.WriteString(existingSummary)
		b.WriteString("\n</Existing Summary>\n\n")
		b.WriteString("<New Context>\n")
	} else {
		b.WriteString("<Context>\n")
	}
	for i, src := range sources {
		fmt.Fprintf(&b, "Source %d: %s (%s)\n", i+1, src.Title, src.URL)
		if content := bestContent(src); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if existingSummary != "" {
		b.WriteString("</New Context>\n\n")
		fmt.Fprintf(&b, "Update the Existing Summary with the New Context on this topic:\n<User Input>\n%s\n</User Input>\n", topic)
	} else {
		b.WriteString("</Context>\n\n")
		fmt.Fprintf(&b, "Create a Summary using the Context on this topic:\n<User Input>\n%s\n</User Input>\n", topic)
	}
	return b.String()
}
