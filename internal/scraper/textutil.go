package scraper

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonNumericRe = regexp.MustCompile(`[^\d.,]`)
	numberRe     = regexp.MustCompile(`\d+\.?\d*`)
)

// CleanText collapses whitespace runs into single spaces and trims the result.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// ExtractNumber pulls the first numeric token out of locale-formatted text.
// Everything except digits, dots and commas is stripped, commas become dots,
// and the first contiguous digit run (with at most one dot) is parsed.
// Returns nil when the text holds no digits.
func ExtractNumber(text string) *float64 {
	if text == "" {
		return nil
	}
	cleaned := nonNumericRe.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	token := numberRe.FindString(cleaned)
	if token == "" {
		return nil
	}
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return &value
}

const minRequestDelay = 500 * time.Millisecond

// jitteredDelay returns the base delay offset by up to ±30%, floored at 500ms.
func jitteredDelay(base time.Duration) time.Duration {
	offset := (rand.Float64()*0.6 - 0.3) * float64(base)
	delay := base + time.Duration(offset)
	if delay < minRequestDelay {
		return minRequestDelay
	}
	return delay
}
