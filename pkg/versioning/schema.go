package versioning

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the registry owns.
func AutoMigrate(db *gorm.DB) error {
	for _, m := range []interface{ AutoMigrate() error }{
		NewQuestionStore(db),
		NewVersionStore(db),
		NewDatasetStore(db),
		NewUserStore(db),
		NewAuditStore(db),
	} {
		if err := m.AutoMigrate(); err != nil {
			return err
		}
	}
	return nil
}
