package bot

// User-facing texts.
const (
	msgPlaceholder     = "<i>Processing your request...</i>"
	msgReloadWait      = "The source files on the server are being updated, please wait..."
	msgThinking        = "The bot is thinking hard, but he will be back soon, please wait..."
	msgSourcesUpdating = "The source files are being updated, please wait..."
	msgUnexpectedStop  = "Unexpected server error, please trying again later."
	msgUnexpectedRetry = "Unexpected server error, trying again, please be patient"
	msgFinalFailure    = "Sorry, something went wrong while processing your request, please try again later."
	msgDeliveryFailed  = "An error occurred, please try again later"
	msgTooLong         = "Your message is too long, please shorten it and try again."
	msgLengthy         = "Your message is lengthy, please consider shortening it for better responses."
	msgStart           = "Hello! Send me a message with your question, and I'll do my best to help you!"
)

const zeroWidthSpace = "\u200b"
