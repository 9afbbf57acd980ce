// Package dispatch defines the session command vocabulary and resolves typed
// input to commands, suggesting the closest verb on a typo.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

type Command int

const (
	CmdHelp Command = iota
	CmdLoadImage
	CmdPredict
	CmdAutoPredict
	CmdAddToDataset
	CmdTrain
	CmdReload
	CmdUpdateModel
	CmdUpload
	CmdHistory
	CmdDebug
	CmdClear
	CmdExit
)

type entry struct {
	verb        string
	description string
	flags       []string
}

var commands = []entry{
	CmdHelp:         {"help", "Show the help menu with the list of commands.", nil},
	CmdLoadImage:    {"liid", "Load an image and optionally label it.", nil},
	CmdPredict:      {"pwai", "Predict the loaded image with the AI model.", nil},
	CmdAutoPredict:  {"axid", "Load an image and predict it with a heatmap, no label.", nil},
	CmdAddToDataset: {"atmd", "Add the loaded and labeled image to the dataset.", nil},
	CmdTrain:        {"tmwd", "Train the model with the existing dataset.", []string{"-e<epochs>  number of epochs", "-i  ignore the minimum dataset size"}},
	CmdReload:       {"rlmw", "Reload the model weights from disk.", nil},
	CmdUpdateModel:  {"uaim", "Download the latest model from the release feed.", nil},
	CmdUpload:       {"ulmd", "Upload the dataset (disabled).", nil},
	CmdHistory:      {"hist", "Show recent predictions.", []string{"-n<count>  number of rows"}},
	CmdDebug:        {"debug", "Toggle debug mode.", nil},
	CmdClear:        {"clear", "Clear the screen.", nil},
	CmdExit:         {"exit", "Quit the program.", nil},
}

// SuggestionCutoff is the minimum similarity for a close-match suggestion.
const SuggestionCutoff = 0.6

var (
	ErrEmptyInput = errors.New("empty input")

	lookup = buildLookup()
)

func buildLookup() map[string]Command {
	m := make(map[string]Command, len(commands))
	for i, c := range commands {
		m[c.verb] = Command(i)
	}
	return m
}

func (c Command) String() string {
	if int(c) < 0 || int(c) >= len(commands) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commands[c].verb
}

func (c Command) Description() string {
	return commands[c].description
}

func (c Command) Flags() []string {
	return commands[c].flags
}

// All returns the commands in declaration order.
func All() []Command {
	out := make([]Command, len(commands))
	for i := range commands {
		out[i] = Command(i)
	}
	return out
}

// UnknownCommandError is returned for a verb outside the command set.
type UnknownCommandError struct {
	Verb       string
	Suggestion string
}

func (e *UnknownCommandError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("invalid command %q, did you mean %q?", e.Verb, e.Suggestion)
	}
	return fmt.Sprintf("invalid command %q", e.Verb)
}

type Invocation struct {
	Command Command
	// Args are the tokens after the verb.
	Args []string
}

// Parse splits line into tokens and resolves the verb.
func Parse(line string) (Invocation, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Invocation{}, ErrEmptyInput
	}

	verb := strings.ToLower(tokens[0])
	cmd, ok := lookup[verb]
	if !ok {
		return Invocation{}, &UnknownCommandError{Verb: tokens[0], Suggestion: Suggest(verb)}
	}

	return Invocation{Command: cmd, Args: tokens[1:]}, nil
}

// Suggest returns the verb most similar to input, or "" when none reaches
// SuggestionCutoff. Ties go to the earlier declared command.
func Suggest(input string) string {
	best, bestScore := "", 0.0
	for _, c := range commands {
		score := similarity(input, c.verb)
		if score >= SuggestionCutoff && score > bestScore {
			best, bestScore = c.verb, score
		}
	}
	return best
}

func similarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
