package relay

// Texts are the notices the engine sends to either side.
type Texts struct {
	MessageSent         string
	DeliveryFailed      string
	MustReply           string
	ReplyTargetNotFound string
	ReplyDeliveryFailed string
	Unsupported         string
	NotRecorded         string
	ForwardFailedNotice string
	AnonymousHeader     string
	NamedHeader         string
	IdentityShared      string
}

// DefaultTexts returns the built-in English notices.
func DefaultTexts() Texts {
	return Texts{
		MessageSent:         "✅ Your message has been sent.",
		DeliveryFailed:      "⚠️ Your message could not be delivered, please try again.",
		MustReply:           "↩️ Reply to a user's message to answer them.",
		ReplyTargetNotFound: "❓ That message is no longer linked to a conversation (too old or not from a user).",
		ReplyDeliveryFailed: "⚠️ Your reply could not be delivered.",
		Unsupported:         "Only text and photos can be relayed.",
		NotRecorded:         "⚠️ This message was not recorded; replies to it will not reach the user.",
		ForwardFailedNotice: "⚠️ A message from conversation %s could not be forwarded.",
		AnonymousHeader:     "📩 Conversation %s",
		NamedHeader:         "📨 Conversation %s\nName: %s\nUsername: %s\nID: %d",
		IdentityShared:      "👤 Conversation %s is now sending with their name\nName: %s\nUsername: %s\nID: %d",
	}
}
