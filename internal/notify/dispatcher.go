package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/consentgrid/backend/internal/models"
)

// TokenSource resolves a handle to its registered push tokens.
type TokenSource interface {
	TokensFor(ctx context.Context, handle string) ([]string, error)
}

type event struct {
	handle string
	title  string
	body   string
	data   map[string]string
}

// Dispatcher fans lifecycle events out to a push gateway from a bounded
// queue. Enqueueing never blocks the caller and failures are logged, never
// returned: the primary operation must succeed even when delivery cannot.
type Dispatcher struct {
	gateway PushGateway
	tokens  TokenSource
	logger  zerolog.Logger

	queue chan event
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(gateway PushGateway, tokens TokenSource, logger zerolog.Logger, queueSize, workers int) *Dispatcher {
	d := &Dispatcher{
		gateway: gateway,
		tokens:  tokens,
		logger:  logger,
		queue:   make(chan event, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// ConsentRequested notifies the recipient of a new pending request.
func (d *Dispatcher) ConsentRequested(req *models.ConsentRequest) {
	d.enqueue(event{
		handle: req.ToHandle,
		title:  "New consent request",
		body:   fmt.Sprintf("@%s sent you a consent request", req.FromHandle),
		data: map[string]string{
			"request_id":  req.ID.String(),
			"from_handle": req.FromHandle,
			"template":    req.Template,
		},
	})
}

// ConsentResponded notifies the initiator of the recipient's decision.
func (d *Dispatcher) ConsentResponded(req *models.ConsentRequest) {
	d.enqueue(event{
		handle: req.FromHandle,
		title:  "Consent request " + req.Status,
		body:   fmt.Sprintf("@%s %s your consent request", req.ToHandle, req.Status),
		data: map[string]string{
			"request_id": req.ID.String(),
			"status":     req.Status,
		},
	})
}

func (d *Dispatcher) enqueue(ev event) {
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().
			Str("handle", ev.handle).
			Str("title", ev.title).
			Msg("notification queue full, event dropped")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tokens, err := d.tokens.TokensFor(ctx, ev.handle)
	if err != nil {
		d.logger.Error().Err(err).
			Str("handle", ev.handle).
			Msg("failed to resolve push tokens")
		return
	}
	if len(tokens) == 0 {
		d.logger.Debug().
			Str("handle", ev.handle).
			Msg("no devices registered, notification skipped")
		return
	}

	for _, token := range tokens {
		if err := d.gateway.Send(ctx, token, ev.title, ev.body, ev.data); err != nil {
			d.logger.Warn().Err(err).
				Str("handle", ev.handle).
				Msg("push delivery failed")
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}
