package garden

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/mail"
	"github.com/relabs-tech/gardenbase/core/registry"
)

// Notification states
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Report is the tally of a distributor run
type Report struct {
	// Sent notifications are now in state sent
	Sent int
	// Retried notifications failed but have attempts left and stay pending
	Retried int
	// Failed notifications have no attempts left
	Failed int
	// Deferred notifications are scheduled for later
	Deferred int
	// Errors counts notifications whose outcome could not be recorded
	Errors int
}

func (r Report) String() string {
	return fmt.Sprintf("sent %d, retried %d, failed %d, deferred %d, errors %d",
		r.Sent, r.Retried, r.Failed, r.Deferred, r.Errors)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeError
)

// Distributor sends pending notifications by email and records the outcome on
// the notification rows
type Distributor struct {
	gateway *gateway.Gateway
	mailer  mail.Mailer

	// Now returns the current time, used for sendAt and sentAt
	Now func() time.Time
	// Concurrency is the number of parallel senders
	Concurrency int
	// BatchSize is the maximum number of notifications a single run picks up
	BatchSize int
}

// NewDistributor returns a distributor which reads and writes through g and
// sends with mailer
func NewDistributor(g *gateway.Gateway, mailer mail.Mailer) *Distributor {
	return &Distributor{
		gateway:     g,
		mailer:      mailer,
		Now:         func() time.Time { return time.Now().UTC() },
		Concurrency: 4,
		BatchSize:   gateway.DefaultLimit,
	}
}

// Run distributes pending notifications once and returns after all picked up
// notifications were processed
func (d *Distributor) Run(ctx context.Context) (Report, error) {
	rlog := logger.FromContext(ctx)
	var report Report

	rows, err := d.pending(ctx)
	if err != nil {
		return report, err
	}

	now := d.Now()
	due := make([]gateway.Row, 0, len(rows))
	for _, row := range rows {
		if sendAt, ok := row["sendAt"].(time.Time); ok && sendAt.After(now) {
			report.Deferred++
			continue
		}
		if len(due) < d.BatchSize || d.BatchSize <= 0 {
			due = append(due, row)
		}
	}

	concurrency := d.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan gateway.Row, concurrency)
	output := make(chan outcome, concurrency)
	collect := make(chan Report)

	go func() {
		collected := report
		for o := range output {
			switch o {
			case outcomeSent:
				collected.Sent++
			case outcomeRetried:
				collected.Retried++
			case outcomeFailed:
				collected.Failed++
			case outcomeError:
				collected.Errors++
			}
		}
		collect <- collected
	}()

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go d.worker(ctx, &wg, jobs, output)
	}
	for _, row := range due {
		jobs <- row
	}
	close(jobs)
	wg.Wait()
	close(output)
	report = <-collect

	rlog.Infof("distributed notifications: %s", report)
	return report, nil
}

// pending returns pending notifications, unscheduled ones first and then scheduled
// ones by ascending sendAt. Notifications scheduled far ahead therefore never hide
// due ones from a run.
func (d *Distributor) pending(ctx context.Context) ([]gateway.Row, error) {
	condition := gateway.Where("status", StatusPending)
	options := gateway.QueryOptions{Limit: d.BatchSize}

	unscheduled, err := d.gateway.Query(ctx, TableNotification, condition.And("sendAt", nil), options)
	if err != nil {
		return nil, err
	}
	options.OrderBy = &registry.Ordering{Column: "sendAt"}
	scheduled, err := d.gateway.Query(ctx, TableNotification, condition, options)
	if err != nil {
		return nil, err
	}

	seen := make(map[interface{}]bool, len(unscheduled))
	rows := make([]gateway.Row, 0, len(unscheduled)+len(scheduled))
	for _, row := range append(unscheduled, scheduled...) {
		if seen[row["id"]] {
			continue
		}
		seen[row["id"]] = true
		rows = append(rows, row)
	}
	return rows, nil
}

func (d *Distributor) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan gateway.Row, output chan<- outcome) {
	defer wg.Done()
	for row := range jobs {
		output <- d.deliverWithPanicEnvelope(ctx, row)
	}
}

func (d *Distributor) deliverWithPanicEnvelope(ctx context.Context, row gateway.Row) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Errorf("Error 4771: recovered from panic delivering notification %v: %s", row["id"], r)
			debug.PrintStack()
			o = outcomeError
		}
	}()
	return d.deliver(ctx, row)
}

func (d *Distributor) deliver(ctx context.Context, row gateway.Row) outcome {
	rlog := logger.FromContext(ctx).WithField("notification", row["id"])

	sendErr := func() error {
		user, err := d.gateway.Get(ctx, TableUser, row["userId"])
		if err != nil {
			return fmt.Errorf("cannot look up user %v: %w", row["userId"], err)
		}
		email, _ := user["email"].(string)
		if email == "" {
			return fmt.Errorf("user %v has no email", row["userId"])
		}
		subject, _ := row["subject"].(string)
		body, _ := row["bodyHtml"].(string)
		result, err := d.mailer.Send(ctx, mail.Message{To: email, Subject: subject, BodyHTML: body})
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("mailer did not accept message")
		}

		_, err = d.gateway.UpdateByPrimaryKey(ctx, TableNotification, gateway.Entry{
			"id":        row["id"],
			"status":    StatusSent,
			"sentAt":    d.Now(),
			"messageId": result.ID,
		})
		if err != nil {
			// the message is out, a retry would send it twice
			rlog.WithError(err).Errorln("Error 4772: cannot record sent notification")
		}
		return nil
	}()
	if sendErr == nil {
		rlog.Infoln("notification sent")
		return outcomeSent
	}

	attemptsLeft, _ := row["attemptsLeft"].(int64)
	attemptsLeft--
	update := gateway.Entry{"id": row["id"], "attemptsLeft": attemptsLeft}
	o := outcomeRetried
	if attemptsLeft <= 0 {
		update["attemptsLeft"] = int64(0)
		update["status"] = StatusFailed
		o = outcomeFailed
	}
	rlog.WithError(sendErr).Warnf("cannot send notification, %d attempts left", attemptsLeft)
	if _, err := d.gateway.UpdateByPrimaryKey(ctx, TableNotification, update); err != nil {
		rlog.WithError(err).Errorln("Error 4773: cannot record failed notification")
		return outcomeError
	}
	return o
}
