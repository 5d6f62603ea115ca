package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/llm"
)

// generate runs the interpretation steps for one session: template lookup,
// prompt rendering, the model call, validation, and confidence scoring.
// Everything except the model call is pure, so a retried delivery re-runs
// the whole sequence safely.
func (w *Worker) generate(ctx context.Context, sessionID string, logger *slog.Logger) (*insight.Insight, error) {
	sess, _, err := w.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	def, ok := w.catalog.Get(sess.SpreadID)
	if !ok {
		// The catalog lost a spread a live session references. Same class of
		// problem as a missing template: an operator has to fix it.
		return nil, fmt.Errorf("session references unknown spread %q: %w", sess.SpreadID, insight.ErrNoTemplate)
	}

	tmpl, err := insight.TemplateFor(sess.Category)
	if err != nil {
		return nil, err
	}

	prompt := tmpl.Render(sess, def)

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ModelTimeout)
	defer cancel()

	started := time.Now()
	resp, err := w.generator.Generate(callCtx, llm.Request{
		SystemPrompt: tmpl.SystemPrompt(),
		UserPrompt:   prompt,
	})
	modelCallDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("model invocation: %w", err)
	}

	ins := insight.Validate(sessionID, resp.Content, logger)
	ins.Confidence = w.cfg.Confidence.Score(ins, sess.ReversedRatio())
	ins.Model = resp.Model
	ins.CreatedAt = time.Now().UTC()
	return ins, nil
}
