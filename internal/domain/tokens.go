package domain

import "encoding/json"

// EstimateMessageTokens estimates the token count of a single message using
// the chars/4 heuristic over text content, tool_use name + serialized input,
// and tool_result content.
func EstimateMessageTokens(m TranscriptMessage) int {
	return estimateChars(m) / 4
}

// EstimateTokens estimates the total token count of a transcript.
func EstimateTokens(msgs []TranscriptMessage) int {
	total := 0
	for _, m := range msgs {
		total += estimateChars(m)
	}
	return total / 4
}

func estimateChars(m TranscriptMessage) int {
	if !m.HasBlocks() {
		return len(m.Content)
	}
	total := 0
	for _, b := range m.Blocks {
		switch b.Type {
		case "text":
			total += len(b.Text)
		case "tool_use":
			total += len(b.Name)
			if input, err := json.Marshal(b.Input); err == nil {
				total += len(input)
			}
		case "tool_result":
			total += len(b.Content)
		}
	}
	return total
}
