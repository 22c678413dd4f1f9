package store

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/inkwell-labs/inkwell/internal/apperr"
)

const (
	maxTitleChars = 200
	maxTags       = 15
	maxTagChars   = 40
	maxBodyChars  = 1_000_000

	maxCollectionName = 100
)

// reservedCollectionNames cannot be claimed by users; they collide with
// query-scope keywords.
var reservedCollectionNames = map[string]bool{
	"all":    true,
	"none":   true,
	"drafts": true,
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < 1 || n > maxTitleChars {
		return apperr.Validation(
			fmt.Sprintf("title must be 1..%d characters", maxTitleChars), "title")
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > maxTags {
		return apperr.Validation(fmt.Sprintf("at most %d tags", maxTags), "tags")
	}
	for _, tag := range tags {
		n := utf8.RuneCountInString(tag)
		if n < 1 || n > maxTagChars {
			return apperr.Validation(
				fmt.Sprintf("tag %q must be 1..%d characters", tag, maxTagChars), "tags")
		}
		for _, r := range tag {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return apperr.Validation(
					fmt.Sprintf("tag %q has disallowed character %q", tag, r), "tags")
			}
		}
	}
	return nil
}

func validateCollectionName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > maxCollectionName {
		return apperr.Validation(
			fmt.Sprintf("collection name must be 1..%d characters", maxCollectionName), "name")
	}
	if reservedCollectionNames[lowerASCII(name)] {
		return apperr.Validation(fmt.Sprintf("collection name %q is reserved", name), "name")
	}
	return nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
