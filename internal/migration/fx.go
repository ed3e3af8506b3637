package migration

import (
	"strings"

	questiondomain "github.com/octue/twined-server/internal/question/domain"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// The SQL migrations target postgres; other dialects (dev, tests)
		// fall back to schema auto-migration.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return conn.AutoMigrate(
				&srdomain.ServiceRevision{},
				&questiondomain.Question{},
				&usagedomain.ServiceUsageEvent{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
