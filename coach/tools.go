package coach

import "google.golang.org/genai"

// PlaybookFunctionName is the tool the model calls to fetch coaching
// techniques.
const PlaybookFunctionName = "GetCoachingPlaybook"

// PlaybookFunctionDeclaration returns the playbook function declaration for
// the live model.
func PlaybookFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        PlaybookFunctionName,
		Description: "Get the documented coaching techniques and session frameworks",
	}
}

// BuildTools returns the tool set registered with every live session.
func BuildTools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				PlaybookFunctionDeclaration(),
			},
		},
	}
}

var playbook = `
# Coaching playbook

## GROW framework
Structure a session as Goal, Reality, Options, Way forward. Spend most of the
time in Reality and Options; only move to Way forward once at least two
options are on the table.

## Scaling questions
"On a scale of one to ten, how confident are you?" Follow up with "what would
move it one point higher?" — never ask why it isn't lower.

## Two-minute next step
Every session ends with a step the speaker can start within 48 hours and
finish in under half an hour. Smaller is better.

## Stuck detection
If the speaker circles the same concern three times, name the loop out loud
and ask permission to try a different angle.
`

// GetCoachingPlaybook returns the playbook content served to the model.
func GetCoachingPlaybook() string {
	return playbook
}
