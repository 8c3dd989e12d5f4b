package database

import (
	"log"

	"backend/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate core models
	err = db.AutoMigrate(
		&model.User{},
		&model.Room{},
		&model.Reservation{},
		&model.AuditLog{},
		&model.Role{},
		&model.Permission{},
	)
	if err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	return db, nil
}

// builtinPermissions describes every seeded permission code.
var builtinPermissions = []model.Permission{
	{Code: model.PermReservationsRead, Name: "View reservations", Group: "reservations"},
	{Code: model.PermReservationsReview, Name: "Approve and reject reservations", Group: "reservations"},
	{Code: model.PermRoomsWrite, Name: "Manage room catalogue", Group: "rooms"},
	{Code: model.PermAuditRead, Name: "View audit trail", Group: "audit"},
	{Code: model.PermUsersRead, Name: "View users", Group: "users"},
	{Code: model.PermUsersWrite, Name: "Manage users", Group: "users"},
}

// builtinRoles maps each role to the permission codes it carries.
// Admin is resolved by short-circuit in the permission middleware, so
// its row exists mainly for the /me permission listing.
var builtinRoles = map[string][]string{
	model.RoleAdmin: {
		model.PermReservationsRead,
		model.PermReservationsReview,
		model.PermRoomsWrite,
		model.PermAuditRead,
		model.PermUsersRead,
		model.PermUsersWrite,
	},
	model.RoleReviewer: {
		model.PermReservationsRead,
		model.PermReservationsReview,
		model.PermAuditRead,
	},
	model.RoleRequester: {
		model.PermReservationsRead,
	},
}

// SeedRoles makes sure the built-in roles and their permission grants
// exist. Idempotent; safe to run at every startup.
func SeedRoles(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		perms := make(map[string]*model.Permission, len(builtinPermissions))
		for i := range builtinPermissions {
			p := builtinPermissions[i]
			if err := tx.Where(model.Permission{Code: p.Code}).
				Attrs(model.Permission{Name: p.Name, Group: p.Group}).
				FirstOrCreate(&p).Error; err != nil {
				return err
			}
			perms[p.Code] = &p
		}

		for name, codes := range builtinRoles {
			role := &model.Role{Name: name}
			if err := tx.Where(model.Role{Name: name}).
				Attrs(model.Role{IsSystem: true}).
				FirstOrCreate(role).Error; err != nil {
				return err
			}

			grants := make([]*model.Permission, 0, len(codes))
			for _, code := range codes {
				grants = append(grants, perms[code])
			}
			if err := tx.Model(role).Association("Permissions").Replace(grants); err != nil {
				return err
			}
		}
		return nil
	})
}
