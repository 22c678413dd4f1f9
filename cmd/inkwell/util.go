package main

import (
	"encoding/json"
	"fmt"
)

type inkwellError struct {
	message string
	hint    string
}

func (e *inkwellError) Error() string {
	return fmt.Sprintf("%s\n  Hint: %s", e.message, e.hint)
}

func userError(message, hint string) error {
	return &inkwellError{message: message, hint: hint}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
