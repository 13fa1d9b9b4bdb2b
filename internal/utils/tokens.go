package utils

// CountTokens estimates the number of tokens in the given text.
// 1 token ~= 4 characters; any non-empty text counts as at least one.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}
