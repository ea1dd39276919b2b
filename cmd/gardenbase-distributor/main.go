// Command gardenbase-distributor is the AWS Lambda which sends pending notifications.
// It is triggered by a scheduled CloudWatch event.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/relabs-tech/gardenbase/config"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/mail"
	"github.com/relabs-tech/gardenbase/garden"
)

type handler struct {
	distributor *garden.Distributor
}

func (h *handler) handle(ctx context.Context, event events.CloudWatchEvent) (garden.Report, error) {
	ctx, rlog := logger.ContextWithLogger(ctx)
	rlog.WithField("event", event.ID).Infoln("distribute notifications, scheduled at", event.Time)
	return h.distributor.Run(ctx)
}

func newHandler(g *gateway.Gateway, mailer mail.Mailer) *handler {
	return &handler{distributor: garden.NewDistributor(g, mailer)}
}

func main() {
	ctx := context.Background()
	c, err := config.Load()
	if err != nil {
		logger.Default().Fatalln(err)
	}
	// the connection is reused by warm invocations
	db, err := c.OpenDB()
	if err != nil {
		logger.Default().Fatalln(err)
	}
	r := garden.Registry()
	if err := r.CreateTables(ctx, db); err != nil {
		logger.Default().Fatalln(err)
	}
	mailer, err := c.Mailer(ctx)
	if err != nil {
		logger.Default().Fatalln(err)
	}
	lambda.Start(newHandler(gateway.New(db, r), mailer).handle)
}
