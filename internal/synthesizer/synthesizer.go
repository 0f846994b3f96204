// Package synthesizer normalizes final response length and tone after
// the pipeline has produced its draft. It is a bounded corrective
// step: drafts already inside the target length band pass through
// untouched, and a rewrite is only accepted when it scores at least as
// well as the draft it replaces.
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
)

// Context carries the conversational state the rewrite must preserve.
type Context struct {
	Stage    domain.ConversationStage
	Lead     domain.LeadProfile
	Approach string
}

// Result is the synthesizer's decision for one draft.
type Result struct {
	Text      string
	Score     float64 // 0-100, for the returned text
	Rewritten bool
}

type Optimizer struct {
	client  llm.Client
	persona string
	cfg     config.SynthesizerConfig
	logger  *slog.Logger
}

func New(client llm.Client, persona string, cfg config.SynthesizerConfig, logger *slog.Logger) *Optimizer {
	return &Optimizer{client: client, persona: persona, cfg: cfg, logger: logger}
}

const rewriteSystemTemplate = `You are %s, a warm and professional Singapore
real-estate assistant on WhatsApp. Rewrite the given reply so it is between
%d and %d characters. Keep every concrete fact (prices, districts, property
names), keep the same intent, keep at most one question, and never reveal
that you are an AI or automated. Reply with the rewritten message only, no
preamble and no quotes.`

// Optimize returns the text to deliver. It never returns an empty
// string and never returns a rewrite that scores worse than the draft.
func (o *Optimizer) Optimize(ctx context.Context, draft string, c Context) Result {
	if draft == "" {
		return Result{}
	}

	if n := len([]rune(draft)); n >= o.cfg.MinLength && n <= o.cfg.MaxLength {
		return Result{Text: draft, Score: o.score(draft, draft, c)}
	}

	rewritten, err := o.rewrite(ctx, draft, c)
	if err != nil {
		o.logger.WarnContext(ctx, "synthesis rewrite failed, keeping draft",
			slog.String("error", err.Error()))
		return Result{Text: draft, Score: o.score(draft, draft, c)}
	}

	draftScore := o.score(draft, draft, c)
	rewriteScore := o.score(rewritten, draft, c)

	if rewriteScore >= o.cfg.AcceptThreshold && rewriteScore >= draftScore {
		o.logger.DebugContext(ctx, "synthesis rewrite accepted",
			slog.Float64("score", rewriteScore),
			slog.Float64("draft_score", draftScore))
		return Result{Text: rewritten, Score: rewriteScore, Rewritten: true}
	}

	o.logger.DebugContext(ctx, "synthesis rewrite rejected",
		slog.Float64("score", rewriteScore),
		slog.Float64("draft_score", draftScore))
	return Result{Text: draft, Score: draftScore}
}

func (o *Optimizer) rewrite(ctx context.Context, draft string, c Context) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Conversation stage: %s\n", c.Stage)
	if c.Approach != "" {
		fmt.Fprintf(&prompt, "Strategic intent to preserve: %s\n", c.Approach)
	}
	fmt.Fprintf(&prompt, "\nReply to rewrite:\n%s\n", draft)

	resp, err := o.client.Complete(ctx, llm.Request{
		Stage:       domain.StageSynthesis,
		Operation:   "response_synthesis",
		System:      fmt.Sprintf(rewriteSystemTemplate, o.persona, o.cfg.MinLength, o.cfg.MaxLength),
		Prompt:      prompt.String(),
		Temperature: 0.4,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	if text == "" {
		return "", domain.NewStageError(domain.StageSynthesis, domain.FailureMalformed,
			fmt.Errorf("empty rewrite"))
	}
	return text, nil
}

// score rates candidate 0-100 against the original draft on four
// weighted axes: length fit 30, persona preservation 25, lexical
// overlap with the original 25, stage-appropriate language 20.
func (o *Optimizer) score(candidate, original string, c Context) float64 {
	return o.lengthFit(candidate) +
		o.personaFit(candidate) +
		o.overlap(candidate, original) +
		o.stageFit(candidate, c.Stage)
}

func (o *Optimizer) lengthFit(text string) float64 {
	const weight = 30.0
	n := len([]rune(text))
	if n >= o.cfg.MinLength && n <= o.cfg.MaxLength {
		return weight
	}
	var deviation float64
	if n < o.cfg.MinLength {
		deviation = float64(o.cfg.MinLength-n) / float64(o.cfg.MinLength)
	} else {
		deviation = float64(n-o.cfg.MaxLength) / float64(o.cfg.MaxLength)
	}
	if deviation > 1 {
		deviation = 1
	}
	return weight * (1 - deviation)
}

var personaBreakers = []string{
	"as an ai", "language model", "i am a bot", "i'm a bot",
	"i cannot assist", "automated message",
}

func (o *Optimizer) personaFit(text string) float64 {
	const weight = 25.0
	lower := strings.ToLower(text)
	for _, b := range personaBreakers {
		if strings.Contains(lower, b) {
			return 0
		}
	}
	if strings.Count(text, "?") > 1 {
		return weight / 2
	}
	return weight
}

// overlap is the fraction of the original's word set preserved by the
// candidate. The original against itself always scores the full
// weight.
func (o *Optimizer) overlap(candidate, original string) float64 {
	const weight = 25.0
	origWords := wordSet(original)
	if len(origWords) == 0 {
		return weight
	}
	candWords := wordSet(candidate)
	kept := 0
	for w := range origWords {
		if candWords[w] {
			kept++
		}
	}
	return weight * float64(kept) / float64(len(origWords))
}

var stageMarkers = map[domain.ConversationStage][]string{
	domain.StageInitial:    {"welcome", "help", "looking for", "great to", "thanks for"},
	domain.StageExploring:  {"option", "district", "area", "budget", "prefer"},
	domain.StageQualifying: {"price", "bedroom", "viewing", "s$", "unit"},
	domain.StageCommitted:  {"confirm", "viewing", "appointment", "see you", "schedule"},
}

func (o *Optimizer) stageFit(text string, stage domain.ConversationStage) float64 {
	const weight = 20.0
	markers, ok := stageMarkers[stage]
	if !ok {
		return weight / 2
	}
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return weight
		}
	}
	return weight / 2
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}
