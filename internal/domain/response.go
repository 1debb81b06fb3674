package domain

// BrainResponse is the decision service's reply to an inbound message
// notification. Any subset of ResponseMessage and Products may be populated
// when Success is true.
type BrainResponse struct {
	Success               bool      `json:"success"`
	Processed             bool      `json:"processed"`
	Error                 string    `json:"error,omitempty"`
	ResponseMessage       string    `json:"responseMessage,omitempty"`
	WaitTimeSeconds       float64   `json:"waitTimeSeconds,omitempty"`
	TypingDurationSeconds float64   `json:"typingDurationSeconds,omitempty"`
	Products              []Product `json:"products,omitempty"`
}

// Product is one catalog entry: a formatted text block followed by zero or
// more media attachments.
type Product struct {
	FormattedMessage string   `json:"formattedMessage"`
	MediaURLs        []string `json:"mediaUrls"`
}
