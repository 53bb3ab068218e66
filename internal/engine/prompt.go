package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/harrison/ralph-ultra/internal/models"
)

// basePrinciples precede every fresh story prompt. User-customized
// principles from the config directory are appended after these.
const basePrinciples = `# Coding principles

- DRY: extract shared logic instead of duplicating it.
- Small steps: make one verifiable change at a time.
- Crash early: validate inputs at boundaries and fail loudly.
- Law of Demeter: talk to immediate collaborators only.
- Match existing patterns: follow the conventions already in this codebase.
- Before coding, read the relevant files and confirm you understand the
  existing structure.`

const implementationInstructions = `# Instructions

Implement the story above so that every acceptance criterion passes.
Run any listed test commands yourself before finishing. Make the smallest
change that satisfies the criteria; do not refactor unrelated code.`

// buildStoryPrompt renders the fresh-attempt prompt: principles, user
// principles, the story block, then instructions.
func buildStoryPrompt(story *models.UserStory, userPrinciples string) string {
	var b strings.Builder
	b.WriteString(basePrinciples)
	b.WriteString("\n")
	if trimmed := strings.TrimSpace(userPrinciples); trimmed != "" {
		b.WriteString("\n# Additional principles\n\n")
		b.WriteString(trimmed)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	writeStoryBlock(&b, story)
	b.WriteString("\n")
	b.WriteString(implementationInstructions)
	b.WriteString("\n")
	return b.String()
}

// buildResumePrompt renders the shorter retry prompt listing prior AC
// outcomes and directing work at the failing criteria only.
func buildResumePrompt(story *models.UserStory, passingACs, failingACs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Resume story %s: %s\n\n", story.ID, story.Title)
	b.WriteString("A previous session worked on this story. Continue from where it left off.\n\n")
	if len(passingACs) > 0 {
		fmt.Fprintf(&b, "Already passing (do not touch): %s\n", strings.Join(passingACs, ", "))
	}
	if len(failingACs) > 0 {
		fmt.Fprintf(&b, "Still failing (fix these): %s\n", strings.Join(failingACs, ", "))
	}
	b.WriteString("\n")
	writeStoryBlock(&b, story)
	b.WriteString("\nWork only on the failing acceptance criteria. Run their test commands before finishing.\n")
	return b.String()
}

func writeStoryBlock(b *strings.Builder, story *models.UserStory) {
	fmt.Fprintf(b, "# Story %s: %s\n\n", story.ID, story.Title)
	fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(story.Description))
	fmt.Fprintf(b, "Complexity: %s\n\n", story.Complexity)
	b.WriteString("Acceptance criteria:\n")
	if story.AcceptanceCriteria.Freeform() {
		for i, ac := range story.AcceptanceCriteria.Items {
			fmt.Fprintf(b, "%d. %s\n", i+1, ac.Text)
		}
		return
	}
	for _, ac := range story.AcceptanceCriteria.Items {
		fmt.Fprintf(b, "- [%s] %s", ac.ID, ac.Text)
		if ac.TestCommand != "" {
			fmt.Fprintf(b, " (verify: `%s`)", ac.TestCommand)
		}
		b.WriteString("\n")
	}
}

// writePromptFile writes the prompt to a unique temporary file. The path is
// passed to the CLI by reference; the engine removes it when the attempt
// ends.
func writePromptFile(prompt string) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("ralph-prompt-%s.md", uuid.NewString()))
	if err := os.WriteFile(path, []byte(prompt), 0o600); err != nil {
		return "", err
	}
	return path, nil
}
