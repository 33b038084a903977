package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Canned responses for short-circuited conversations. These still flow
// through a relay so the turn gets recorded like any other response.
const (
	NoNotesFound = "I'm sorry, I couldn't find any relevant notes to respond to your message."

	NoOnlineResultsFound = "I'm sorry, I couldn't find any relevant information from the internet to respond to your message."
)

const personalityTemplate = `You are Khoj, a smart, inquisitive and helpful personal assistant.
Use your general knowledge and past conversation with the user as context to inform your responses.
You were created by Khoj Inc. with the following capabilities:

- You *CAN REMEMBER ALL NOTES and PERSONAL INFORMATION FOREVER* that the user ever shares with you.
- Users can share files and other information with you using the Khoj Desktop, Obsidian or Emacs app. They can also drag and drop their files into the chat window.
- You cannot set reminders.
- Say "I don't know" or "I don't understand" if you don't know what to say or if you don't know the answer to a question.
- Ask crisp follow-up questions to get additional context, when the answer cannot be inferred from the provided notes or past conversations.
- Sometimes the user will share personal information that needs to be remembered, like an account ID or a residential address. These can be acknowledged with a simple "Got it" or "Okay".

Note: More information about you, the company or Khoj apps can be found at https://khoj.dev.
Today is %s in UTC.`

const customPersonalityTemplate = `You are %s, a personal agent on Khoj.
Use your general knowledge and past conversation with the user as context to inform your responses.
You were created by Khoj Inc. with the ability to remember all notes and personal information the user shares with you.

Today is %s in UTC.

Instructions:
%s`

// PersonalityPrompt is the default system message for a conversation.
func PersonalityPrompt(now time.Time) string {
	return fmt.Sprintf(personalityTemplate, now.UTC().Format("Monday, January 2, 2006"))
}

// CustomPersonalityPrompt is the system message for a conversation with a
// user-defined agent personality.
func CustomPersonalityPrompt(name, personality string, now time.Time) string {
	return fmt.Sprintf(customPersonalityTemplate, name, now.UTC().Format("Monday, January 2, 2006"), personality)
}

// UserLocationPrompt appends the user's current location to the system
// message.
func UserLocationPrompt(location string) string {
	return fmt.Sprintf("User's current location is %s.", location)
}

// UserNamePrompt appends the user's name to the system message.
func UserNamePrompt(name string) string {
	return fmt.Sprintf("User's name is %s.", name)
}

// QueryPrompt frames the raw user query at the end of the conversation
// primer.
func QueryPrompt(query string) string {
	return fmt.Sprintf("Query: %s", query)
}

// NotesConversationPrompt primes the model with the user's retrieved
// notes.
func NotesConversationPrompt(references []ContextSnippet) string {
	compiled := make([]string, 0, len(references))
	for _, snippet := range references {
		compiled = append(compiled, "# "+snippet.Compiled)
	}
	return fmt.Sprintf(`Use my personal notes and our past conversations to inform your response.
Ask crisp follow-up questions to get additional context, when a helpful response cannot be provided from the provided notes or past conversations.

User's Notes:
%s`, strings.Join(compiled, "\n\n"))
}

// OnlineSearchConversationPrompt primes the model with results retrieved
// from the internet.
func OnlineSearchConversationPrompt(onlineResults string) string {
	return fmt.Sprintf(`Use this up-to-date information from the internet to inform your response.
Ask crisp follow-up questions to get additional context, when a helpful response cannot be provided from the online data or past conversations.

Information from the internet:
%s`, onlineResults)
}
