package dto

// CommandAck is the immediate reply to a slash command. The real answer is
// delivered later through the command's response URL.
type CommandAck struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
