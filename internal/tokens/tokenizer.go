// Package tokens 为上下文用量仪表提供 token 估算。
// Package tokens estimates token usage for the context gauge.
package tokens

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"geminichat/internal/chat"
)

// Tokenizer 精确 token 计数器，支持 tiktoken 和启发式回退
// Tokenizer provides precise token counting with tiktoken and heuristic fallback
type Tokenizer struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool // 是否使用启发式回退 / Whether using heuristic fallback
	mu           sync.RWMutex
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// Default 返回全局默认的 tokenizer 实例
// Default returns the global default tokenizer instance
func Default() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = NewTokenizer("cl100k_base")
	})
	return defaultTokenizer
}

// NewTokenizer 创建 tokenizer，如果 tiktoken 初始化失败则回退到启发式
// NewTokenizer creates a tokenizer, falls back to heuristic if tiktoken init fails
func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{encodingName: encodingName}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// 离线环境可能没有 BPE 缓存，回退到启发式
		// Offline environments may lack BPE cache, fallback to heuristic
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

// CountSession 估算整个会话的 token 数
// CountSession estimates the token usage of a whole conversation
func (t *Tokenizer) CountSession(s *chat.Session) int {
	if s == nil {
		return 0
	}
	total := 0
	for i := range s.Turns {
		total += t.CountTurn(&s.Turns[i])
	}
	return total
}

// CountTurn 估算单个回合的 token 数。附件按大小粗略折算。
// CountTurn estimates one turn. Attachments are approximated from their
// payload size since their token cost depends on the model's media encoder.
func (t *Tokenizer) CountTurn(turn *chat.Turn) int {
	// ~4 tokens of per-message framing overhead
	tokens := 4
	tokens += t.CountText(string(turn.Role))
	for _, part := range turn.Parts {
		if part.Kind == chat.PartText {
			tokens += t.CountText(part.Text)
			continue
		}
		// rough media estimate: ~1 token per 4 payload bytes, capped
		est := int(part.SizeBytes / 4)
		if est > 2048 {
			est = 2048
		}
		tokens += est
	}
	return tokens
}

// CountText 计算单个文本的 token 数
// CountText counts tokens for a single text string
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return heuristicTokenCount(text)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise 返回是否使用精确计数
// IsPrecise returns whether precise counting is available
func (t *Tokenizer) IsPrecise() bool {
	return !t.fallback
}

// heuristicTokenCount 启发式 token 估算 (chars/3.5 混合文本)
// heuristicTokenCount is a heuristic for mixed CJK/English text
func heuristicTokenCount(text string) int {
	// CJK 字符通常 1-2 token/字, 英文约 4 chars/token
	// CJK characters are typically 1-2 tokens each, English ~4 chars/token
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5 + float64(asciiCount)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols
		(r >= 0xFF00 && r <= 0xFFEF) || // Fullwidth Forms
		(r >= 0xAC00 && r <= 0xD7AF) // Korean Hangul
}
