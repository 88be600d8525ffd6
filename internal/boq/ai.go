package boq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/resilience"
	"github.com/WattMatt/engi-ops-nexus-sub014/pkg/anthropic"
)

// AIConfig bounds the AI-assisted extractor.
type AIConfig struct {
	Model             string
	MaxTokens         int64
	MinSheetChars     int
	MaxSheetChars     int
	RequestTimeout    time.Duration
	RequestsPerMinute int
	FailureThreshold  int
	CacheTTL          string
}

// DefaultAIConfig returns the production defaults.
func DefaultAIConfig() AIConfig {
	return AIConfig{
		Model:             "claude-haiku-4-5-20251001",
		MaxTokens:         8192,
		MinSheetChars:     50,
		MaxSheetChars:     30000,
		RequestTimeout:    90 * time.Second,
		RequestsPerMinute: 50,
		FailureThreshold:  3,
		CacheTTL:          "5m",
	}
}

const systemInstruction = `You are an expert data analyst specialising in construction bills of quantities (BOQ) for electrical installations.
Extract every priced or measurable line item from the sheet the user provides.

Return ONLY a JSON array. Each element is an object with these keys:
  item_code, description, quantity, unit, supply_rate, install_rate, total_rate, amount,
  is_rate_only, category_code, confidence, bill_number, bill_name, section_code, section_name

Rules:
- Use null for anything not present in the sheet. Never invent numbers.
- Numbers are plain JSON numbers without currency symbols or thousands separators.
- is_rate_only is true when the quantity column says "rate only" (or similar); quantity is then null.
- category_code must be one of the codes listed in the category registry, or null.
- confidence is your confidence (0 to 1) that the row is a genuine line item.
- Skip notes to tenderers, headings, subtotals, carried-forward lines and column headers.`

// AIExtractor asks the text-generation service to extract items from a
// sheet. It defers to the next strategy on any failure; it never returns a
// hard error. An AIExtractor is scoped to one run: its rate limiter and
// circuit breaker are not shared across jobs.
type AIExtractor struct {
	client     anthropic.Client
	cfg        AIConfig
	registry   string
	categories map[string]model.CategoryEntry
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker

	mu    sync.Mutex
	usage anthropic.TokenUsage
	calls int
}

// NewAIExtractor creates a per-run extractor over the category registry.
func NewAIExtractor(client anthropic.Client, cfg AIConfig, categories []model.CategoryEntry) *AIExtractor {
	def := DefaultAIConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MinSheetChars <= 0 {
		cfg.MinSheetChars = def.MinSheetChars
	}
	if cfg.MaxSheetChars <= 0 {
		cfg.MaxSheetChars = def.MaxSheetChars
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = def.CacheTTL
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}

	a := &AIExtractor{
		client:     client,
		cfg:        cfg,
		registry:   categoryRegistryText(categories),
		categories: make(map[string]model.CategoryEntry, len(categories)),
		limiter:    rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("boq: ai circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
	for _, c := range categories {
		a.categories[strings.ToUpper(strings.TrimSpace(c.Code))] = c
	}
	return a
}

// Name implements Strategy.
func (a *AIExtractor) Name() string { return model.MethodAI }

// Usage returns the accumulated token usage and number of successful calls.
func (a *AIExtractor) Usage() (anthropic.TokenUsage, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, a.calls
}

// Model returns the model used for requests.
func (a *AIExtractor) Model() string { return a.cfg.Model }

// Extract implements Strategy.
func (a *AIExtractor) Extract(ctx context.Context, sheet model.SheetSegment) ([]model.ExtractedItem, error) {
	if a.client == nil {
		return nil, deferf("ai: no client configured")
	}
	content := strings.TrimSpace(sheet.Content)
	if len(content) < a.cfg.MinSheetChars {
		return nil, deferf("ai: sheet %q too short (%d chars)", sheet.Name, len(content))
	}
	if len(content) > a.cfg.MaxSheetChars {
		content = truncateUTF8(content, a.cfg.MaxSheetChars)
	}

	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
		return a.client.CreateMessage(callCtx, a.request(sheet.Name, content))
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return nil, deferf("ai: circuit open")
		case anthropic.IsRateLimited(err):
			return nil, deferf("ai: rate limited: %v", err)
		case anthropic.IsOverloaded(err):
			return nil, deferf("ai: overloaded: %v", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, deferf("ai: request timed out after %s", a.cfg.RequestTimeout)
		default:
			return nil, deferf("ai: request failed: %v", err)
		}
	}

	a.mu.Lock()
	a.usage.Add(resp.Usage)
	a.calls++
	a.mu.Unlock()

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, deferf("ai: empty response")
	}

	rec, err := Recover(text)
	if err != nil {
		return nil, deferf("ai: %v", err)
	}

	items := make([]model.ExtractedItem, 0, len(rec.Items))
	for _, raw := range rec.Items {
		it := a.toItem(raw, sheet.Name, rec.Stage)
		if it.Description == "" {
			continue
		}
		FinalizeItem(&it)
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, deferf("ai: recovered objects had no descriptions")
	}

	zap.L().Info("boq: ai extraction complete",
		zap.String("sheet", sheet.Name),
		zap.String("stage", rec.Stage),
		zap.Int("items", len(items)),
		zap.Int("discarded", rec.Discarded),
		zap.Bool("truncated", resp.Truncated()),
	)
	return items, nil
}

func (a *AIExtractor) request(sheetName, content string) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.CachedSystemPrompt(systemInstruction, a.registry, a.cfg.CacheTTL),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Sheet: %s\n\n%s", sheetName, content),
		}},
	}
}

func (a *AIExtractor) toItem(raw RawItem, sheetName, stage string) model.ExtractedItem {
	it := model.ExtractedItem{
		ItemCode:    raw.ItemCode,
		Description: raw.Description,
		Quantity:    raw.Quantity,
		SupplyRate:  positive(raw.SupplyRate),
		InstallRate: positive(raw.InstallRate),
		TotalRate:   positive(raw.TotalRate),
		Amount:      raw.Amount,
		IsRateOnly:  raw.IsRateOnly,
		BillNumber:  raw.BillNumber,
		BillName:    raw.BillName,
		SectionCode: raw.SectionCode,
		SectionName: raw.SectionName,
	}
	if it.BillName == "" {
		it.BillName = sheetName
	}
	if raw.Unit != "" {
		u := raw.Unit
		it.Unit = &u
	}
	if cat, ok := a.categories[strings.ToUpper(raw.CategoryCode)]; ok {
		it.CategoryID = cat.ID
		it.CategoryName = cat.Name
	}
	if raw.Confidence != nil {
		c := min(max(*raw.Confidence, 0), 1)
		it.MatchConfidence = &c
	}
	setRaw(&it, "method", model.MethodAI)
	setRaw(&it, "sheet", sheetName)
	setRaw(&it, "recovery_stage", stage)
	setRaw(&it, "fields", raw.Fields)
	return it
}

func categoryRegistryText(categories []model.CategoryEntry) string {
	if len(categories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Category registry (code - name - description):\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "%s - %s", c.Code, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&b, " - %s", c.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune, preferring
// the last line break so the final row stays whole.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	s = s[:cut]
	if i := strings.LastIndexByte(s, '\n'); i > n/2 {
		s = s[:i]
	}
	return s
}
