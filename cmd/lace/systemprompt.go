package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// systemPromptFile and userInstructionsFile are the two documents a
// workspace's system prompt is assembled from. Either may be missing, in
// which case it is created with its default content; a file that is empty
// after trimming whitespace counts as absent.
const (
	systemPromptFile     = "system-prompt"
	userInstructionsFile = "user-instructions"
)

const defaultSystemPrompt = `You are Lace, an agentic assistant. You work one turn at a time: read the
conversation so far, decide whether you need a tool, and either call one or
reply directly. Be direct and correct over exhaustive.`

// loadSystemPrompt reads systemPromptFile and userInstructionsFile from dir,
// creating either with its default content if missing, and composes them
// into the prompt a new Agent is constructed with.
func loadSystemPrompt(dir string) (string, error) {
	base, err := loadOrCreate(filepath.Join(dir, systemPromptFile), defaultSystemPrompt)
	if err != nil {
		return "", fmt.Errorf("system prompt: %w", err)
	}
	extra, err := loadOrCreate(filepath.Join(dir, userInstructionsFile), "")
	if err != nil {
		return "", fmt.Errorf("user instructions: %w", err)
	}
	if extra == "" {
		return base, nil
	}
	return base + "\n\n" + extra, nil
}

func loadOrCreate(path, defaultContent string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := os.WriteFile(path, []byte(defaultContent), 0o644); writeErr != nil {
			return "", fmt.Errorf("writing default %s: %w", path, writeErr)
		}
		return strings.TrimSpace(defaultContent), nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return strings.TrimSpace(defaultContent), nil
	}
	return content, nil
}
