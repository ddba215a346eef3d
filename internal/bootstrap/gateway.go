package bootstrap

import (
	"github.com/cocaine/cocaine-framework-go/internal/client"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/sirupsen/logrus"
)

func bootstrapGateway(d *Dealer, opts ...client.Option) error {
	c, err := client.NewFromConfig(d.Config, opts...)
	if err != nil {
		return err
	}
	d.Client = c

	gwOpts := []dealer.Option{dealer.WithObserver(d.Metrics)}
	if d.Journal != nil {
		gwOpts = append(gwOpts, dealer.WithJournal(d.Journal))
	}
	d.Gateway = dealer.NewGateway(c, gwOpts...)

	logrus.Infof("Gateway ready for services %v", c.Services())
	return nil
}
