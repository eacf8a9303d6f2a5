package domain

// SignedRequest is the body of POST /api/generate.
type SignedRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Time        int64         `json:"time"`
	Signature   string        `json:"sign"`
	Password    string        `json:"pass,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	// System is an optional system prompt prepended upstream. It is not
	// covered by the signature.
	System string `json:"system,omitempty"`
}
