package bootstrap

import (
	"github.com/cocaine/cocaine-framework-go/internal/infra/metrics"
	"github.com/cocaine/cocaine-framework-go/internal/infra/repository/journal"
	"github.com/cocaine/cocaine-framework-go/internal/util"
	"github.com/sirupsen/logrus"
)

func bootstrapLogging(d *Dealer) error {
	cfg := d.Config.Logging
	if cfg.Dir == "" {
		util.InitLogger()
	} else {
		hook, err := util.InitLoggerWithFile(cfg.Dir, cfg.RetentionDays)
		if err != nil {
			return err
		}
		d.LogHook = hook
	}
	util.SetLevel(cfg.Level)
	return nil
}

func bootstrapInfra(d *Dealer) error {
	d.Metrics = metrics.New()

	if !d.Config.Journal.Enabled {
		logrus.Info("Journal disabled")
		return nil
	}
	repo, err := journal.NewRepoSQLite(d.Config.Journal.Config)
	if err != nil {
		return err
	}
	d.Journal = repo
	return nil
}
