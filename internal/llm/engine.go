// Package llm runs the two-phase conversation with the completion API.
//
// A first call answers the user directly unless the model replies with a
// sentinel line asking for weather data. In that case the engine resolves
// the requested date, looks the forecast up and calls the model a second
// time with the forecast summary folded in as an extra system turn. There
// is never more than one augmentation round per conversation.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/weather"
)

// DefaultLanguage is the reply language when none is configured.
const DefaultLanguage = "Spanish"

// WeatherLookup is the forecast port used for augmentation.
type WeatherLookup interface {
	Forecast(ctx context.Context, city, isoDate string) (*weather.Forecast, error)
}

// Engine owns the conversation protocol.
type Engine struct {
	Completer Completer
	Weather   WeatherLookup
	Language  string

	// Now is the clock used for relative dates. Defaults to time.Now.
	Now func() time.Time
}

// Converse answers userText given the prior history (oldest first).
//
// Errors: upstream errors from the completion API or the weather lookup
// (the lookup's own kind stays reachable with errors.Is), protocol errors
// when the sentinel cannot be parsed.
func (e *Engine) Converse(ctx context.Context, userText string, history []Turn) (string, error) {
	const op = "llm.Converse"

	tr := otel.Tracer("llm/Engine")
	ctx, span := tr.Start(ctx, "Converse", trace.WithAttributes(
		attribute.Int("history.len", len(history)),
	))
	defer span.End()

	msgs := e.buildMessages(userText, history)

	reply, err := e.complete(ctx, op, msgs)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if !HasSentinel(reply) {
		return reply, nil
	}

	req, err := ParseSentinel(reply)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	date := NormalizeDate(req.Date, e.now())
	span.SetAttributes(attribute.String("weather.city", req.City), attribute.String("weather.date", date))

	if e.Weather == nil {
		return "", apperr.Upstream(op, "weather lookup not configured")
	}
	fc, err := e.Weather.Forecast(ctx, req.City, date)
	if err != nil {
		span.RecordError(err)
		return "", apperr.Wrapf(apperr.KindUpstream, op, err, "weather lookup for %q on %s", req.City, date)
	}

	summary := Summary(fc)
	log.Ctx(ctx).Debug().Str("city", req.City).Str("date", date).Msg("conversation augmented with forecast")

	msgs = append(msgs, Turn{Role: RoleSystem, Content: summary})
	final, err := e.complete(ctx, op, msgs)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return final, nil
}

func (e *Engine) complete(ctx context.Context, op string, msgs []Turn) (string, error) {
	if e.Completer == nil {
		return "", apperr.Upstream(op, "completion client not configured")
	}
	out, err := e.Completer.Complete(ctx, msgs)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return "", apperr.Wrap(apperr.KindUpstream, op, err)
		}
		return "", err
	}
	return out, nil
}

func (e *Engine) buildMessages(userText string, history []Turn) []Turn {
	msgs := make([]Turn, 0, len(history)+3)
	msgs = append(msgs, Turn{Role: RoleSystem, Content: SystemPrompt(e.language())})
	msgs = append(msgs, history...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: userText})
	return msgs
}

func (e *Engine) language() string {
	if e.Language == "" {
		return DefaultLanguage
	}
	return e.Language
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SystemPrompt is the fixed instruction sent first in every conversation.
func SystemPrompt(language string) string {
	return fmt.Sprintf(
		"You are a helpful assistant. Always respond in %s.\n"+
			"If answering requires current weather or forecast data, do not guess. "+
			"Reply with exactly one line of the form\n"+
			"%s city=[<city>], date=[<YYYY-MM-DD | today | tomorrow>]\n"+
			"and nothing else. You will then receive the data as a system message.",
		language, SentinelKeyword)
}

// Summary renders a forecast as the system turn of the second call.
func Summary(f *weather.Forecast) string {
	return fmt.Sprintf("Weather in %s, %s on %s: %s. Max %.1f°C, min %.1f°C, average %.1f°C.",
		f.City, f.Country, f.Date, f.Description(), f.TempMax, f.TempMin, f.TempAvg)
}
