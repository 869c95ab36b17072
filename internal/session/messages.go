package session

import "fmt"

const (
	msgWelcome = "Welcome to TherapyBot. " +
		"Use the command /begin to start a conversation and /end to end the conversation. " +
		"At the end of each conversation you will be asked to rate the responses of TherapyBot. " +
		"Use the command /start to reset the bot and /stop to stop the bot."
	msgChatStarted     = "Conversation mode started."
	msgChatClosed      = "Conversation mode closed."
	msgEvalStarted     = "Evaluation mode started."
	msgEvalClosed      = "Evaluation mode closed."
	msgNextSteps       = "You can start another conversation with the /begin command or use the /stop command to stop the bot."
	msgGoodbye         = "Thanks for using our TherapyBot, see you next time! Don't forget to give the /start command again."
	msgChatDisabled    = "I'm sorry, the chatting service is not enabled in the current configuration. Stop the chatbot and try again later."
	msgChatTimeout     = "I'm sorry, it took me too long to come up with an answer. Please try again."
	msgChatFailed      = "I'm sorry, something went wrong while writing my answer. Please try again."
	msgASRDisabled     = "I'm sorry, the transcription service is not enabled in the current configuration. You're welcome to write a text message."
	msgASRFailed       = "I'm sorry, I could not make out your voice message. You're welcome to write a text message."
	msgNotSaved        = "I'm sorry, this conversation could not be saved."
	voiceNoteFilename  = "voice.ogg"
	maxLoggedTextRunes = 200
)

func msgInvalidScore(scale int) string {
	return fmt.Sprintf("Please answer with a whole number from 1 to %d.", scale)
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxLoggedTextRunes {
		return s
	}
	return string(r[:maxLoggedTextRunes]) + "…"
}
