package wa

// Wire shapes for the subset of the WhatsApp Cloud API webhook payload this
// service consumes. Everything else in the payload is ignored.

type webhookPayload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []message `json:"messages"`
}

type message struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Text        *textBody        `json:"text,omitempty"`
	Image       *mediaBody       `json:"image,omitempty"`
	Interactive *interactiveBody `json:"interactive,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type interactiveBody struct {
	Type        string       `json:"type"`
	ButtonReply *buttonReply `json:"button_reply,omitempty"`
}

type buttonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Outbound shapes for the Graph API messages endpoint.

type outboundText struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             outboundBody `json:"text"`
}

type outboundBody struct {
	Body string `json:"body"`
}

type outboundInteractive struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Interactive      interactiveSend `json:"interactive"`
}

type interactiveSend struct {
	Type   string            `json:"type"`
	Body   outboundBody      `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveAction struct {
	Buttons []interactiveButton `json:"buttons"`
}

type interactiveButton struct {
	Type  string      `json:"type"`
	Reply buttonReply `json:"reply"`
}

type mediaLookupResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}
