// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the chat-completion client the decision service
// calls each turn. The engine treats the model as an untrusted JSON
// producer: the client returns raw text and the caller owns parsing and
// fallback.
package llm

import "context"

// Message is a single turn of a conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// GenerationParams tunes a single generation request. Nil pointers mean
// "use the provider default".
type GenerationParams struct {
	// Temperature controls sampling randomness. Decision calls pin this
	// low; conversational calls leave it unset.
	Temperature *float32

	// MaxTokens caps the completion length.
	MaxTokens *int

	// TopP is the nucleus sampling parameter.
	TopP *float32

	// Stop lists sequences that end generation early.
	Stop []string

	// ModelOverride selects a model other than the client default for
	// this request only.
	ModelOverride string
}

// ChatClient is the narrow interface the decision service requires from
// a language model backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends a multi-turn conversation and returns the assistant's
	// text response.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}
