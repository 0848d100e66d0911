package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"geminichat/internal/chat"
)

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client *genai.Client
	logger *slog.Logger

	// retryDelay separates the single pre-first-byte retry from the failed
	// attempt. Shortened in tests.
	retryDelay time.Duration
}

// NewGemini creates a Gemini provider using the given API key.
func NewGemini(ctx context.Context, apiKey string, logger *slog.Logger) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{client: client, logger: logger, retryDelay: time.Second}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// ListModels returns the ids of models that support content generation.
func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	for model, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("gemini: list models: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(model.Name, "models/"))
	}
	return ids, nil
}

// Stream starts one streaming generation. The returned Stream is fed by a
// background goroutine and always ends with a terminal event: a transient
// failure before the first delta is retried once, a failure after the first
// delta is terminal immediately.
func (g *Gemini) Stream(ctx context.Context, model string, turns []chat.Turn) (*Stream, error) {
	contents, err := turnsToContents(turns)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, errors.New("gemini: conversation has no sendable content")
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := &Stream{events: make(chan chat.StreamEvent, 16), cancel: cancel}
	go g.run(ctx, model, contents, stream)
	return stream, nil
}

func (g *Gemini) run(ctx context.Context, model string, contents []*genai.Content, stream *Stream) {
	defer stream.cancel()
	defer close(stream.events)

	for attempt := 1; ; attempt++ {
		delivered, finish, err := g.attempt(ctx, model, contents, stream)
		if err == nil {
			stream.events <- chat.Completed(finish)
			return
		}

		kind := classify(ctx, err)
		if shouldRetry(kind, delivered, attempt) {
			g.logger.Warn("stream attempt failed, retrying",
				"model", model, "attempt", attempt, "error", err)
			select {
			case <-time.After(g.retryDelay):
				continue
			case <-ctx.Done():
				stream.events <- chat.StreamError(chat.FailCancelled, ctx.Err())
				return
			}
		}

		stream.events <- chat.StreamError(kind, err)
		return
	}
}

// attempt consumes one GenerateContentStream pass, forwarding text deltas.
// delivered reports whether any delta was sent to the consumer.
func (g *Gemini) attempt(ctx context.Context, model string, contents []*genai.Content, stream *Stream) (delivered bool, finish string, err error) {
	for resp, iterErr := range g.client.Models.GenerateContentStream(ctx, model, contents, nil) {
		if iterErr != nil {
			return delivered, "", iterErr
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						stream.events <- chat.TextDelta(part.Text)
						delivered = true
					}
				}
			}
			if cand.FinishReason != "" {
				finish = string(cand.FinishReason)
			}
		}
	}
	if ctx.Err() != nil {
		return delivered, "", ctx.Err()
	}
	if finish == "" {
		return delivered, "", errStreamStopped
	}
	return delivered, finish, nil
}

// maxAttempts allows the single pre-first-byte retry.
const maxAttempts = 2

// shouldRetry reports whether another stream attempt is allowed. Only
// transient network faults qualify: API rejections would fail identically,
// cancellation is final, and a delivered delta must never be duplicated.
func shouldRetry(kind chat.FailKind, delivered bool, attempt int) bool {
	return kind == chat.FailNetwork && !delivered && attempt < maxAttempts
}

// classify maps a transport error to the failure kind surfaced on the turn.
func classify(ctx context.Context, err error) chat.FailKind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return chat.FailCancelled
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return chat.FailAPI
	}
	return chat.FailNetwork
}

// turnsToContents converts conversation turns into Gemini request contents.
// Pending and failed model turns carry nothing the model should see and are
// skipped; attachment parts are loaded from their content-addressed payloads.
func turnsToContents(turns []chat.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for i := range turns {
		turn := &turns[i]
		if turn.Role == chat.RoleModel && turn.Status != chat.StatusComplete {
			continue
		}

		var role genai.Role = genai.RoleUser
		if turn.Role == chat.RoleModel {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			switch {
			case part.Kind == chat.PartText:
				if part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			case part.IsAttachment():
				data, err := os.ReadFile(part.PayloadPath)
				if err != nil {
					return nil, fmt.Errorf("gemini: read payload %s: %w", part.PayloadPath, err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, part.MIMEType))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}
