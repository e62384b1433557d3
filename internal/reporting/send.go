package reporting

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/marcus/dispatchd/internal/locale"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/scheduler"
	"github.com/marcus/dispatchd/internal/store"
)

// ErrNoRecipient is returned by Send when no owner phone is configured.
var ErrNoRecipient = errors.New("no report recipient configured")

// Delivery records what Send queued.
type Delivery struct {
	Report       *Report
	Owner        bool
	Congratulate bool
}

// Send generates the report and queues it to the owner phone. The top
// performer, when they have a phone on file, also gets a congratulation in
// their own language.
func (g *Generator) Send(ctx context.Context, tenantID string, days int) (*Delivery, error) {
	if g.sender == nil || g.ownerPhone == "" {
		return nil, ErrNoRecipient
	}
	r, err := g.Generate(ctx, tenantID, days)
	if err != nil {
		return nil, err
	}

	d := &Delivery{Report: r}
	d.Owner = g.sender.Enqueue(notify.Request{
		TenantID: tenantID,
		Channel:  notify.WhatsApp,
		To:       g.ownerPhone,
		Message:  g.WhatsAppText(ctx, r),
	})
	if !d.Owner {
		g.logger.WarnCtx("report not queued", logging.Fields{"tenant": tenantID})
	}

	if r.Top != nil && r.Top.StaffID != "" {
		m, err := g.store.GetStaff(ctx, tenantID, r.Top.StaffID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			g.logger.WarnCtx("top performer lookup failed", logging.Fields{"tenant": tenantID, "staff_id": r.Top.StaffID, "err": err})
		case m.Phone != "":
			args := map[string]string{"name": m.Name, "done": strconv.Itoa(r.Top.Done)}
			msg := locale.Format(m.Language, locale.KeyTopPerformer, args)
			if g.locale != nil {
				msg = g.locale.Message(ctx, tenantID, m.Language, locale.KeyTopPerformer, args)
			}
			d.Congratulate = g.sender.Enqueue(notify.Request{
				TenantID: tenantID,
				Channel:  notify.WhatsApp,
				To:       m.Phone,
				Message:  msg,
			})
		}
	}

	g.logger.InfoCtx("report sent", logging.Fields{
		"tenant":       tenantID,
		"days":         r.Days,
		"done":         r.TotalDone,
		"congratulate": d.Congratulate,
	})
	return d, nil
}

// Job returns a scheduler job that sends the report for every tenant.
// One tenant failing does not stop the others.
func (g *Generator) Job(days int) scheduler.Job {
	return func(ctx context.Context) error {
		tenants, err := g.store.ListTenants(ctx)
		if err != nil {
			return fmt.Errorf("listing tenants: %w", err)
		}
		var errs []error
		for _, tenant := range tenants {
			if _, err := g.Send(ctx, tenant, days); err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
			}
		}
		return errors.Join(errs...)
	}
}
